package s3

import (
	"github.com/aws/aws-sdk-go-v2/aws"
)

// Options configures Store construction via New.
type Options struct {
	Prefix string
	Region string
	// Endpoint overrides the service endpoint (S3-compatible services, LocalStack).
	Endpoint     string
	UsePathStyle bool
	Upload       UploadConfig
	// Credentials overrides the default credential chain.
	Credentials aws.CredentialsProvider
}

// Option configures a Store.
type Option func(*Options)

// WithPrefix sets the key prefix prepended to every blob name.
func WithPrefix(prefix string) Option {
	return func(o *Options) { o.Prefix = prefix }
}

// WithRegion sets the AWS region.
func WithRegion(region string) Option {
	return func(o *Options) { o.Region = region }
}

// WithEndpoint sets a custom endpoint and enables path-style addressing.
func WithEndpoint(endpoint string) Option {
	return func(o *Options) {
		o.Endpoint = endpoint
		o.UsePathStyle = true
	}
}

// WithUploadConfig overrides the multipart upload settings.
func WithUploadConfig(cfg UploadConfig) Option {
	return func(o *Options) { o.Upload = cfg }
}

// WithCredentials sets a static credentials provider.
func WithCredentials(p aws.CredentialsProvider) Option {
	return func(o *Options) { o.Credentials = p }
}
