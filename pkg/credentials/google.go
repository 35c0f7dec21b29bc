package credentials

import (
	"encoding/json"
	"errors"
	"strings"
)

// ServiceAccountJSON 校验 Google 服务账号 JSON，并把 private_key 中转义的 "\n" 还原为换行。
// 通过环境变量或表单粘贴的 JSON 常带有这种双重转义。
func ServiceAccountJSON(v string) (string, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(v)), &doc); err != nil {
		return "", errors.New("not a JSON document")
	}
	key, _ := doc["private_key"].(string)
	if key == "" {
		return "", errors.New("missing private_key")
	}
	if email, _ := doc["client_email"].(string); email == "" {
		return "", errors.New("missing client_email")
	}
	doc["private_key"] = strings.ReplaceAll(key, `\n`, "\n")
	out, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
