// Package hash 提供密码哈希与校验。
package hash

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword 使用 bcrypt 生成密码哈希。
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPasswordHash 校验密码是否与哈希匹配。
func CheckPasswordHash(password, hash string) bool {
	ok, _ := Verify(password, hash)
	return ok
}

// Verify 校验密码，needsRehash 为 true 表示哈希是旧的 SHA-256 格式，应当升级为 bcrypt。
func Verify(password, hash string) (ok bool, needsRehash bool) {
	if IsLegacy(hash) {
		sum := sha256.Sum256([]byte(password))
		want := hex.EncodeToString(sum[:])
		ok = subtle.ConstantTimeCompare([]byte(want), []byte(strings.ToLower(hash))) == 1
		return ok, ok
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil, false
}

// IsLegacy 判断哈希是否为 64 位十六进制的 SHA-256 摘要。
func IsLegacy(hash string) bool {
	if len(hash) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}

// dummyHash 用于用户不存在时仍执行一次比对，使耗时与用户存在时接近。
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("tutor-dummy-password"), bcrypt.DefaultCost)

// BurnCompare 执行一次不会成功的比对。
func BurnCompare(password string) {
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}
