package services

import (
	"bytes"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/rs/zerolog/log"

	"zapdesk/config"
)

// S3Service is the attachment store backing MediaStore.
type S3Service struct {
	s3Client *s3.S3
	config   *config.S3Config
}

func NewS3Service(cfg *config.S3Config) (*S3Service, error) {
	sess, err := session.NewSession(&aws.Config{
		Region:      aws.String(cfg.Region),
		Credentials: credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
		Endpoint:    aws.String(cfg.ServiceUrl),
	})
	if err != nil {
		return nil, fmt.Errorf("error creating S3 session: %w", err)
	}

	return &S3Service{
		s3Client: s3.New(sess),
		config:   cfg,
	}, nil
}

func (s *S3Service) UploadBytes(data []byte, fileName string, contentType string) (string, error) {
	params := &s3.PutObjectInput{
		Bucket:      aws.String(s.config.BucketName),
		Key:         aws.String(fileName),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}

	if _, err := s.s3Client.PutObject(params); err != nil {
		return "", fmt.Errorf("error uploading to S3: %w", err)
	}

	fileUrl := fmt.Sprintf("%s/%s", s.config.BucketUrl, fileName)
	log.Debug().Str("url", fileUrl).Msg("Attachment stored")
	return fileUrl, nil
}
