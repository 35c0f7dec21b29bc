// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// User 对应于远程数据库中的 'users' 表。
type User struct {
	ID           int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string     `gorm:"type:varchar(50);uniqueIndex;not null" json:"username"`
	PasswordHash string     `gorm:"type:varchar(255);not null" json:"-"`
	Email        string     `gorm:"type:varchar(100)" json:"email"`
	FullName     string     `gorm:"type:varchar(100)" json:"fullName"`
	IsAdmin      bool       `gorm:"not null" json:"isAdmin"`
	IsActive     bool       `gorm:"not null" json:"isActive"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	LastLogin    *time.Time `json:"lastLogin"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (User) TableName() string {
	return "users"
}

// Role 返回写入 JWT 的角色名。
func (u *User) Role() string {
	if u.IsAdmin {
		return "ADMIN"
	}
	return "USER"
}

// UserProfile 是返回给客户端的用户信息，不包含密码哈希。
type UserProfile struct {
	ID        int64      `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	FullName  string     `json:"fullName"`
	IsAdmin   bool       `json:"isAdmin"`
	IsActive  bool       `json:"isActive"`
	CreatedAt LocalTime  `json:"createdAt"`
	LastLogin *LocalTime `json:"lastLogin"`
}

// Profile 将 User 转换为 UserProfile。
func (u *User) Profile() UserProfile {
	p := UserProfile{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		FullName:  u.FullName,
		IsAdmin:   u.IsAdmin,
		IsActive:  u.IsActive,
		CreatedAt: LocalTime(u.CreatedAt),
	}
	if u.LastLogin != nil {
		t := LocalTime(*u.LastLogin)
		p.LastLogin = &t
	}
	return p
}

// UserUpdate 描述一次部分更新，nil 字段保持不变。
type UserUpdate struct {
	Email        *string
	FullName     *string
	IsAdmin      *bool
	IsActive     *bool
	PasswordHash *string
	LastLogin    *time.Time
}

// Empty 报告是否没有任何字段需要更新。
func (u UserUpdate) Empty() bool {
	return u.Email == nil && u.FullName == nil && u.IsAdmin == nil &&
		u.IsActive == nil && u.PasswordHash == nil && u.LastLogin == nil
}

// Columns 返回以列名为键的更新内容。
func (u UserUpdate) Columns() map[string]interface{} {
	cols := make(map[string]interface{})
	if u.Email != nil {
		cols["email"] = *u.Email
	}
	if u.FullName != nil {
		cols["full_name"] = *u.FullName
	}
	if u.IsAdmin != nil {
		cols["is_admin"] = *u.IsAdmin
	}
	if u.IsActive != nil {
		cols["is_active"] = *u.IsActive
	}
	if u.PasswordHash != nil {
		cols["password_hash"] = *u.PasswordHash
	}
	if u.LastLogin != nil {
		cols["last_login"] = *u.LastLogin
	}
	return cols
}

// Apply 把更新写入内存中的 User。
func (u UserUpdate) Apply(user *User) {
	if u.Email != nil {
		user.Email = *u.Email
	}
	if u.FullName != nil {
		user.FullName = *u.FullName
	}
	if u.IsAdmin != nil {
		user.IsAdmin = *u.IsAdmin
	}
	if u.IsActive != nil {
		user.IsActive = *u.IsActive
	}
	if u.PasswordHash != nil {
		user.PasswordHash = *u.PasswordHash
	}
	if u.LastLogin != nil {
		t := *u.LastLogin
		user.LastLogin = &t
	}
}

// UsersTableDDL 是 Supabase 上 users 表的建表语句。
const UsersTableDDL = `CREATE TABLE IF NOT EXISTS users (
    id SERIAL PRIMARY KEY,
    username VARCHAR(50) UNIQUE NOT NULL,
    password_hash VARCHAR(255) NOT NULL,
    email VARCHAR(100),
    full_name VARCHAR(100),
    is_admin BOOLEAN NOT NULL DEFAULT FALSE,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP DEFAULT NOW(),
    last_login TIMESTAMP
);`
