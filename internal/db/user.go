package db

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// User 定义了用户模型
// 账号信息之外还承载个人维度的游戏化状态：经验、等级、金币、
// 个人连胜（跨所有仪式，按"当天是否打过任意一次完整卡"计算）与冻结券。
// LastCompletedAt/LastFreezeUsedAt 只存日期部分，时间统一归零。
type User struct {
	gorm.Model
	Username    string `gorm:"unique;not null"`
	Password    string `gorm:"not null"`
	DisplayName string
	AvatarURL   string
	Timezone    string

	XP    int `gorm:"default:0"`
	Level int `gorm:"default:1"`
	Coins int `gorm:"default:0"`

	CurrentStreak    int `gorm:"default:0"`
	LongestStreak    int `gorm:"default:0"`
	FreezeCount      int `gorm:"default:2"`
	LastCompletedAt  *time.Time
	LastFreezeUsedAt *time.Time
}

// MaxFreezeCount 为冻结券的持有上限（个人与搭档共用同一上限）。
const MaxFreezeCount = 3

// EnsureUser 存在性检查：若提供的用户名与密码均非空且不存在对应账号，则创建一个 bcrypt 哈希的用户。
func EnsureUser(username, password string) error {
	trimmedUser := strings.TrimSpace(username)
	trimmedPassword := strings.TrimSpace(password)
	if trimmedUser == "" || trimmedPassword == "" {
		return nil
	}

	if DB == nil {
		return errors.New("database not initialized")
	}

	var existing User
	if err := DB.Where("username = ?", trimmedUser).First(&existing).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		hashed, err := bcrypt.GenerateFromPassword([]byte(trimmedPassword), bcrypt.DefaultCost)
		if err != nil {
			return err
		}

		return DB.Create(&User{Username: trimmedUser, Password: string(hashed), FreezeCount: 2, Level: 1}).Error
	}

	return nil
}

// NormalizeToDate 将时间戳截断为当天零点，作为全项目统一的"日期"表示。
func NormalizeToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// SameDate 判断两个时间是否落在同一个本地日历日。
func SameDate(a, b time.Time) bool {
	return NormalizeToDate(a).Equal(NormalizeToDate(b))
}
