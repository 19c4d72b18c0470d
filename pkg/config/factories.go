package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/ttableserver/internal/logger"
	"github.com/marmos91/ttableserver/pkg/adapter/lookup"
	"github.com/marmos91/ttableserver/pkg/loader"
	"github.com/marmos91/ttableserver/pkg/server"
)

// S3Config holds the options of the "s3" section.
type S3Config struct {
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	MaxRetries      int    `mapstructure:"max_retries"`
}

func decodeS3Config(options map[string]any) (S3Config, error) {
	var s3cfg S3Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &s3cfg,
	})
	if err != nil {
		return s3cfg, err
	}
	if err := decoder.Decode(options); err != nil {
		return s3cfg, fmt.Errorf("failed to decode s3 config: %w", err)
	}
	return s3cfg, nil
}

// CreateTasks resolves the model section into loader tasks.
func CreateTasks(cfg *Config) ([]loader.Task, error) {
	genres, err := loader.ParseProvenances(cfg.Model.Provenances)
	if err != nil {
		return nil, err
	}
	return loader.BuildTasks(cfg.Model.Template, cfg.Model.LanguagePair, genres), nil
}

// CreateOpener returns an opener for local paths, with S3 support when the
// template is an s3:// URL.
func CreateOpener(ctx context.Context, cfg *Config) (loader.Opener, error) {
	opener := loader.NewMultiOpener(loader.FileOpener{})

	if loader.Scheme(cfg.Model.Template) != "s3" {
		return opener, nil
	}

	client, err := createS3Client(ctx, cfg.S3)
	if err != nil {
		return nil, err
	}
	opener.Register("s3", loader.NewS3Opener(client))
	return opener, nil
}

func createS3Client(ctx context.Context, options map[string]any) (*s3.Client, error) {
	s3cfg, err := decodeS3Config(options)
	if err != nil {
		return nil, err
	}
	if s3cfg.Region == "" {
		return nil, fmt.Errorf("s3: region is required")
	}

	var configOptions []func(*awsConfig.LoadOptions) error
	configOptions = append(configOptions, awsConfig.WithRegion(s3cfg.Region))

	if s3cfg.AccessKeyID != "" && s3cfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			s3cfg.AccessKeyID,
			s3cfg.SecretAccessKey,
			"",
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxRetries := s3cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultS3MaxRetries
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if s3cfg.Endpoint != "" {
			// S3-compatible stores (MinIO, Localstack) need path-style URLs
			o.BaseEndpoint = aws.String(s3cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	logger.Debug("S3 client configured: region=%s endpoint=%q max_retries=%d",
		s3cfg.Region, s3cfg.Endpoint, maxRetries)
	return client, nil
}

// CreateAdapter builds the lookup front end from the server section.
func CreateAdapter(cfg *Config, m *MetricsResult) (*lookup.LookupAdapter, error) {
	return lookup.New(cfg.Server.Config, m.Lookup)
}

// CreateServer wires loader, tasks and adapter into a TTableServer.
func CreateServer(ctx context.Context, cfg *Config, m *MetricsResult) (*server.TTableServer, error) {
	tasks, err := CreateTasks(cfg)
	if err != nil {
		return nil, err
	}

	opener, err := CreateOpener(ctx, cfg)
	if err != nil {
		return nil, err
	}

	srv := server.New(loader.New(cfg.Loader, opener, m.Loader), tasks, cfg.Server.Lifetime)

	a, err := CreateAdapter(cfg, m)
	if err != nil {
		return nil, err
	}
	if err := srv.AddAdapter(a); err != nil {
		return nil, err
	}
	return srv, nil
}
