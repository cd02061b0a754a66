package models

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mmretail/stockbook_backend/config"
	"github.com/mmretail/stockbook_backend/utils"
)

type User struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index" json:"business_id"`
	Username   string    `gorm:"size:100;not null;unique" json:"username" binding:"required"`
	Name       string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Email      *string   `gorm:"size:100" json:"email"`
	Password   string    `gorm:"size:255;not null" json:"password"`
	IsActive   *bool     `gorm:"not null" json:"is_active"`
	IsAdmin    bool      `gorm:"not null;default:false" json:"is_admin"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	BusinessId string  `json:"business_id"`
	Username   string  `json:"username" binding:"required"`
	Name       string  `json:"name" binding:"required"`
	Email      *string `json:"email"`
	Password   string  `json:"password" binding:"required"`
	IsAdmin    bool    `json:"is_admin"`
}

type LoginInfo struct {
	Token        string `json:"token"`
	Name         string `json:"name"`
	BusinessId   string `json:"business_id"`
	BusinessName string `json:"business_name"`
}

func (result *User) PrepareGive() {
	result.Password = ""
}

func tokenLifespan() time.Duration {
	hours, err := strconv.Atoi(os.Getenv("TOKEN_HOUR_LIFESPAN"))
	if err != nil || hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}

func CreateUser(ctx context.Context, input *NewUser) (*User, error) {
	if len(input.Username) == 0 || len(input.Password) == 0 {
		return nil, &ValidationError{Reason: "username and password are required"}
	}

	db := config.GetDB()

	var count int64
	if err := db.WithContext(ctx).Model(&User{}).
		Where("username = ?", input.Username).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, &ValidationError{Reason: "username already taken"}
	}

	hashed, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	user := User{
		BusinessId: input.BusinessId,
		Username:   input.Username,
		Name:       input.Name,
		Email:      input.Email,
		Password:   hashed,
		IsActive:   utils.NewTrue(),
		IsAdmin:    input.IsAdmin,
	}
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	user.PrepareGive()
	return &user, nil
}

func Login(ctx context.Context, username string, password string) (*LoginInfo, error) {
	db := config.GetDB()

	var user User
	if err := db.WithContext(ctx).Model(&User{}).
		Where("username = ?", username).Take(&user).Error; err != nil {
		return nil, errors.New("invalid username or password")
	}
	if !utils.CheckPasswordHash(password, user.Password) {
		return nil, errors.New("invalid username or password")
	}
	if user.IsActive != nil && !*user.IsActive {
		return nil, errors.New("user is disabled")
	}

	token := uuid.NewString()
	if err := config.SetRedisValue("Token:"+token, user.Username, tokenLifespan()); err != nil {
		return nil, err
	}

	result := LoginInfo{
		Token:      token,
		Name:       user.Name,
		BusinessId: user.BusinessId,
	}
	if user.BusinessId != "" {
		var business Business
		if err := db.WithContext(ctx).Model(&Business{}).
			Where("id = ?", user.BusinessId).First(&business).Error; err == nil {
			result.BusinessName = business.Name
		}
	}
	return &result, nil
}

// Logout destroys the current session token.
func Logout(ctx context.Context) (bool, error) {
	token, ok := utils.GetTokenFromContext(ctx)
	if !ok || token == "" {
		return false, errors.New("token is required")
	}
	if err := config.RemoveRedisKey("Token:" + token); err != nil {
		return false, err
	}
	return true, nil
}

// GetUserByToken resolves a session token back to its user.
func GetUserByToken(ctx context.Context, token string) (*User, error) {
	username, found, err := config.GetRedisValue("Token:" + token)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.New("session expired")
	}

	db := config.GetDB()
	var user User
	if err := db.WithContext(ctx).Model(&User{}).
		Where("username = ?", username).Take(&user).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	user.PrepareGive()
	return &user, nil
}
