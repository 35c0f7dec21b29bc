package middleware

import (
	"net/http"
	"strconv"
	"time"

	"ai-tutor-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

// 令牌桶脚本：按经过的时间补充令牌，返回 {是否放行, 剩余令牌, 重试秒数}
var tokenBucket = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

local bucket = redis.call('HMGET', key, 'tokens', 'updated_at')
local tokens = tonumber(bucket[1])
local updated_at = tonumber(bucket[2])

if tokens == nil or updated_at == nil then
    tokens = capacity
    updated_at = now
end

tokens = math.min(capacity, tokens + math.max(0, now - updated_at) * rate)

local allowed = 0
local retry_after = 0
if tokens >= requested then
    tokens = tokens - requested
    allowed = 1
else
    retry_after = (requested - tokens) / rate
end

redis.call('HMSET', key, 'tokens', tokens, 'updated_at', now)
redis.call('EXPIRE', key, 3600)

return {allowed, math.floor(tokens), math.ceil(retry_after)}
`)

// RateLimit 按客户端 IP 限流，容量为 2*qps，每秒补充 qps 个令牌。
// Redis 不可用时直接放行。
func RateLimit(redisClient *redis.Client, qps int) gin.HandlerFunc {
	capacity := 2 * qps
	return func(c *gin.Context) {
		key := "tutor:rate_limit:" + c.ClientIP()
		now := float64(time.Now().UnixNano()) / 1e9

		result, err := tokenBucket.Run(c.Request.Context(), redisClient, []string{key}, capacity, qps, now, 1).Result()
		if err != nil {
			log.Warnf("RateLimit: redis unavailable, request allowed: %v", err)
			c.Next()
			return
		}

		allowed, remaining, retryAfter := int64(0), int64(capacity), int64(0)
		if arr, ok := result.([]interface{}); ok && len(arr) >= 3 {
			allowed, _ = arr[0].(int64)
			remaining, _ = arr[1].(int64)
			retryAfter, _ = arr[2].(int64)
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(capacity))
		if allowed == 0 {
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			abort(c, http.StatusTooManyRequests, "Too many requests, please slow down")
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		c.Next()
	}
}
