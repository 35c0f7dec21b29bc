// Package credentials resolves API keys and service-account documents from a
// prioritised list of sources.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"ai-tutor-go/internal/apperr"
	"ai-tutor-go/pkg/log"
)

// Source 提供一个候选凭证值，值为空表示该来源未配置。
type Source interface {
	Name() string
	Value() (string, error)
}

type envSource struct{ key string }

// Env 从环境变量读取凭证。
func Env(key string) Source { return envSource{key: key} }

func (s envSource) Name() string { return "env:" + s.key }

func (s envSource) Value() (string, error) {
	return os.Getenv(s.key), nil
}

type fileSource struct {
	name string
	path func() string
}

// File 从文件读取凭证，路径为空或文件不存在时视为未配置。
func File(path string) Source {
	return fileSource{name: "file:" + path, path: func() string { return path }}
}

// EnvFile 从环境变量给出的路径读取凭证，例如 GOOGLE_APPLICATION_CREDENTIALS。
func EnvFile(key string) Source {
	return fileSource{name: "env-file:" + key, path: func() string { return os.Getenv(key) }}
}

func (s fileSource) Name() string { return s.name }

func (s fileSource) Value() (string, error) {
	p := s.path()
	if p == "" {
		return "", nil
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", p, err)
	}
	return string(data), nil
}

type staticSource struct {
	name  string
	value string
}

// Static 包装配置文件或用户输入中给出的值。
func Static(name, value string) Source { return staticSource{name: name, value: value} }

func (s staticSource) Name() string           { return s.name }
func (s staticSource) Value() (string, error) { return s.value, nil }

// Validator 校验并规范化凭证值。
type Validator func(string) (string, error)

// NonEmpty 去掉首尾空白，拒绝空值。
func NonEmpty(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", errors.New("empty value")
	}
	return v, nil
}

// Credential 是解析得到的凭证及其来源。
type Credential struct {
	Value  string
	Source string
}

// Resolver 依次尝试各来源，返回第一个通过校验的值。
type Resolver struct {
	Kind     string
	Sources  []Source
	Validate Validator
}

// Resolve 返回第一个有效凭证；全部无效时返回 ErrConfiguration。
func (r Resolver) Resolve() (Credential, error) {
	validate := r.Validate
	if validate == nil {
		validate = NonEmpty
	}
	var tried []string
	for _, src := range r.Sources {
		tried = append(tried, src.Name())
		raw, err := src.Value()
		if err != nil {
			log.Warnf("[Credentials] %s: 读取 %s 失败: %v", r.Kind, src.Name(), err)
			continue
		}
		if strings.TrimSpace(raw) == "" {
			continue
		}
		v, err := validate(raw)
		if err != nil {
			log.Warnf("[Credentials] %s: %s 中的值无效: %v", r.Kind, src.Name(), err)
			continue
		}
		return Credential{Value: v, Source: src.Name()}, nil
	}
	return Credential{}, apperr.Configuration("no valid %s credential (tried %s)", r.Kind, strings.Join(tried, ", "))
}
