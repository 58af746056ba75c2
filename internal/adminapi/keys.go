// Package adminapi содержит общие для HTTP и gRPC административные контракты:
// проверку ключей, DTO запросов и форму ответов.
package adminapi

import (
	"crypto/subtle"
	"errors"
	"strings"
)

// ErrUnauthorized возвращается, если ключ отсутствует или не совпал ни с одним из настроенных.
var ErrUnauthorized = errors.New("unauthorized")

// KeySet хранит административные ключи. Пустой набор отклоняет любой запрос.
type KeySet struct {
	keys [][]byte
}

// NewKeySet собирает набор, отбрасывая пустые значения и дубликаты.
func NewKeySet(keys ...string) *KeySet {
	seen := make(map[string]struct{}, len(keys))
	ks := &KeySet{}
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		ks.keys = append(ks.keys, []byte(k))
	}
	return ks
}

// Len возвращает количество настроенных ключей.
func (k *KeySet) Len() int {
	if k == nil {
		return 0
	}
	return len(k.keys)
}

// Verify сравнивает кандидата со всеми ключами за постоянное время.
func (k *KeySet) Verify(candidate string) error {
	if k == nil || candidate == "" {
		return ErrUnauthorized
	}
	c := []byte(candidate)
	match := 0
	for _, key := range k.keys {
		match |= subtle.ConstantTimeCompare(key, c)
	}
	if match != 1 {
		return ErrUnauthorized
	}
	return nil
}

// ExtractKey достаёт ключ из значения Authorization ("Bearer <key>") или
// из отдельного заголовка с ключом. Authorization приоритетнее.
func ExtractKey(authorization, adminKey string) string {
	authorization = strings.TrimSpace(authorization)
	if authorization != "" {
		scheme, token, ok := strings.Cut(authorization, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return strings.TrimSpace(adminKey)
}
