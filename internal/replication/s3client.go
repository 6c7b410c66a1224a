package replication

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/stratafs/stratafs/internal/metadata"
)

const defaultRegion = "us-east-1"

// newS3Client builds an S3 client for a replication rule's destination.
// Path-style addressing keeps custom endpoints working without wildcard
// DNS.
func newS3Client(rule metadata.ReplicationRule) *s3.Client {
	region := rule.Region
	if region == "" {
		region = defaultRegion
	}
	opts := s3.Options{
		Region:       region,
		UsePathStyle: true,
		Credentials:  credentials.NewStaticCredentialsProvider(rule.AccessKey, rule.SecretKey, ""),
	}
	if rule.Endpoint != "" {
		opts.BaseEndpoint = aws.String(rule.Endpoint)
	}
	return s3.New(opts)
}
