package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// AWSServiceProvider is the storage collaborator: raw bytes in, durable
// fetchable URL out. It does no retrying of its own.
type AWSServiceProvider interface {
	InitPresignClient(ctx context.Context) error
	PresignLink(ctx context.Context, bucketName string, fileName string) (string, error)
	UploadToPresignedURL(ctx context.Context, bucketName, url string, fileContent []byte) (string, int, error)
	GetPresignedR2FileReadURL(ctx context.Context, bucketName, fileKey string) (string, error)
	UploadBytes(ctx context.Context, bucketName, fileKey string, fileContent []byte) (string, error)
}

type AWSService struct {
	S3PresignClient *s3.PresignClient
}

func (awsService *AWSService) InitPresignClient(ctx context.Context) error {
	var accountId = GetEnv("R2_ACCOUNT_ID", "")
	var accessKeyId = GetEnv("R2_ACCESS_KEY_ID", "")
	var accessKeySecret = GetEnv("R2_ACCESS_KEY_SECRET", "")
	r2Resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL: fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountId),
		}, nil
	})
	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithEndpointResolverWithOptions(r2Resolver),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyId, accessKeySecret, "")),
	)
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}

	s3Client := s3.NewFromConfig(cfg)
	awsService.S3PresignClient = s3.NewPresignClient(s3Client)
	return err
}

func (awsService *AWSService) PresignLink(ctx context.Context, bucketName string, fileName string) (string, error) {
	request, err := awsService.S3PresignClient.PresignPutObject(context.TODO(), &s3.PutObjectInput{Bucket: &bucketName, Key: &fileName})
	if err != nil {
		return "", err
	}
	return request.URL, nil
}

func (awsService *AWSService) GetPresignedR2FileReadURL(ctx context.Context, bucketName, fileKey string) (string, error) {
	presignedGetRequest, err := awsService.S3PresignClient.PresignGetObject(context.TODO(), &s3.GetObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String(fileKey),
	})
	if err != nil {
		return "", fmt.Errorf("failed to presign request: %v", err)
	}
	return presignedGetRequest.URL, nil
}

var allowedUploadMimeTypes = map[string]bool{
	"image/png":       true,
	"image/jpeg":      true,
	"image/webp":      true,
	"application/zip": true,
	// mp3 sniffs as either depending on the frame header
	"audio/mpeg":               true,
	"application/octet-stream": true,
}

func (awsService *AWSService) UploadToPresignedURL(ctx context.Context, bucketName, url string, fileContent []byte) (string, int, error) {
	mimeType := http.DetectContentType(fileContent)
	if !allowedUploadMimeTypes[mimeType] {
		return "", 0, fmt.Errorf("unsupported file type: %s", mimeType)
	}

	body := bytes.NewReader(fileContent)
	req, err := http.NewRequestWithContext(ctx, "PUT", url, body)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", mimeType)

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, err
	}

	return string(respBody), resp.StatusCode, nil
}

// UploadBytes stores content under fileKey and returns a presigned read URL
// for it. Used for training archives and synthesized audio, where the remote
// service needs to fetch the object right back.
func (awsService *AWSService) UploadBytes(ctx context.Context, bucketName, fileKey string, fileContent []byte) (string, error) {
	uploadUrl, err := awsService.PresignLink(ctx, bucketName, fileKey)
	if err != nil {
		return "", fmt.Errorf("unable to presign upload for %s: %v", fileKey, err)
	}
	_, statusCode, err := awsService.UploadToPresignedURL(ctx, bucketName, uploadUrl, fileContent)
	if err != nil {
		return "", fmt.Errorf("upload failed for %s: %v", fileKey, err)
	}
	if statusCode < 200 || statusCode > 299 {
		return "", fmt.Errorf("upload for %s returned status %d", fileKey, statusCode)
	}
	return awsService.GetPresignedR2FileReadURL(ctx, bucketName, fileKey)
}
