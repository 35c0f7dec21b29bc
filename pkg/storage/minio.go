// Package storage 提供了与对象存储服务（MinIO）交互的功能，用于缓存合成的语音。
package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"ai-tutor-go/internal/config"
	"ai-tutor-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// AudioCache 按 (voice, text) 缓存合成的 MP3 音频。
type AudioCache interface {
	Get(ctx context.Context, voiceID, text string) ([]byte, bool)
	Put(ctx context.Context, voiceID, text string, audio []byte) error
	PresignedURL(ctx context.Context, voiceID, text string) (string, error)
}

// AudioKey 返回缓存对象名 tts/<sha256(voice|text)>.mp3。
func AudioKey(voiceID, text string) string {
	sum := sha256.Sum256([]byte(voiceID + "|" + text))
	return "tts/" + hex.EncodeToString(sum[:]) + ".mp3"
}

type minioAudioCache struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

// NewMinIOAudioCache 初始化 MinIO 客户端并确保指定的存储桶存在。
func NewMinIOAudioCache(ctx context.Context, cfg config.MinIOConfig) (AudioCache, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
	}
	log.Infof("MinIO 音频缓存初始化成功, bucket: %s", cfg.BucketName)

	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &minioAudioCache{client: client, bucket: cfg.BucketName, expiry: expiry}, nil
}

func (c *minioAudioCache) Get(ctx context.Context, voiceID, text string) ([]byte, bool) {
	obj, err := c.client.GetObject(ctx, c.bucket, AudioKey(voiceID, text), minio.GetObjectOptions{})
	if err != nil {
		return nil, false
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		// 对象不存在时 ReadAll 返回 NoSuchKey
		if minio.ToErrorResponse(err).Code != "NoSuchKey" {
			log.Warnf("[AudioCache] 读取缓存失败: %v", err)
		}
		return nil, false
	}
	return data, len(data) > 0
}

func (c *minioAudioCache) Put(ctx context.Context, voiceID, text string, audio []byte) error {
	_, err := c.client.PutObject(ctx, c.bucket, AudioKey(voiceID, text), bytes.NewReader(audio), int64(len(audio)), minio.PutObjectOptions{
		ContentType: "audio/mpeg",
	})
	return err
}

func (c *minioAudioCache) PresignedURL(ctx context.Context, voiceID, text string) (string, error) {
	u, err := c.client.PresignedGetObject(ctx, c.bucket, AudioKey(voiceID, text), c.expiry, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}
