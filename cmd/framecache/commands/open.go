package commands

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/hupe1980/framecache"
	"github.com/hupe1980/framecache/blobstore"
	"github.com/hupe1980/framecache/blobstore/minio"
	"github.com/hupe1980/framecache/blobstore/s3"
	"github.com/hupe1980/framecache/config"
	promcollector "github.com/hupe1980/framecache/metrics/prometheus"
	"github.com/prometheus/client_golang/prometheus"
)

// session is an open cache plus what was needed to build it.
type session struct {
	cfg      *config.Config
	cache    *framecache.Cache
	registry *prometheus.Registry
	logger   *framecache.Logger
}

func (s *session) Close() error {
	return s.cache.Close()
}

// openSession loads the configuration and opens the cache it describes.
func openSession(ctx context.Context, g *globals) (*session, error) {
	cfg, err := config.Load(g.cfgFile)
	if err != nil {
		return nil, err
	}

	logger := framecache.LoggerFromConfig(cfg.Logging)
	opts := []framecache.Option{framecache.WithConfig(cfg), framecache.WithLogger(logger)}

	backend, err := remoteBackend(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	if backend != nil {
		opts = append(opts, framecache.WithBackend(*backend))
	}

	s := &session{cfg: cfg, logger: logger}
	if cfg.Metrics.Enabled {
		s.registry = prometheus.NewRegistry()
		opts = append(opts, framecache.WithMetricsCollector(promcollector.New(s.registry)))
	}

	c, err := framecache.Open(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	s.cache = c
	return s, nil
}

// remoteBackend builds the object storage backends WithConfig leaves to
// the caller. It returns nil for the local backends.
func remoteBackend(ctx context.Context, sc config.StorageConfig) (*framecache.Backend, error) {
	switch sc.Backend {
	case "s3":
		optFns := []s3.Option{s3.WithPrefix(sc.Prefix)}
		if sc.Region != "" {
			optFns = append(optFns, s3.WithRegion(sc.Region))
		}
		if sc.Endpoint != "" {
			optFns = append(optFns, s3.WithEndpoint(sc.Endpoint))
		}
		if sc.AccessKey != "" {
			optFns = append(optFns, s3.WithCredentials(staticCredentials(sc.AccessKey, sc.SecretKey)))
		}
		var (
			store blobstore.BlobStore
			err   error
		)
		if sc.Express {
			store, err = s3.NewExpress(ctx, sc.Bucket, optFns...)
		} else {
			store, err = s3.New(ctx, sc.Bucket, optFns...)
		}
		if err != nil {
			return nil, err
		}
		b := framecache.Remote(store)
		return &b, nil
	case "minio":
		store, err := minio.Dial(ctx, sc.Endpoint, sc.AccessKey, sc.SecretKey, sc.Bucket, sc.Prefix, sc.Secure)
		if err != nil {
			return nil, err
		}
		b := framecache.Remote(store)
		return &b, nil
	default:
		return nil, nil
	}
}

func staticCredentials(accessKey, secretKey string) aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     accessKey,
			SecretAccessKey: secretKey,
			Source:          "framecache config",
		}, nil
	})
}
