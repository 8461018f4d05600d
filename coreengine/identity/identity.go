// Package identity performs the one-time, process-wide initialization of the
// capture widget's guest identity: an identity pool id and a region.
//
// The pool id is either configured directly or read from an SSM parameter
// with the AWS configuration of the session's region. The first successful
// Configure wins for the lifetime of the Initializer; later calls return the
// stored settings without loading anything.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ErrNoPool is returned when neither a pool id nor a pool parameter is set.
var ErrNoPool = errors.New("identity pool id is required")

// Settings is what the capture widget needs to obtain guest credentials.
type Settings struct {
	IdentityPoolID   string `json:"identityPoolId"`
	Region           string `json:"region"`
	AllowGuestAccess bool   `json:"allowGuestAccess"`
}

// ConfigLoader loads the AWS configuration for a region.
type ConfigLoader func(ctx context.Context, region string) (aws.Config, error)

// LoadConfig loads the default AWS configuration (environment, shared
// files, instance role) for region. An empty region defers to the SDK.
func LoadConfig(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

// Option configures an Initializer.
type Option func(*Initializer)

// WithPoolParameter names the SSM parameter read when Configure gets no
// pool id.
func WithPoolParameter(name string) Option {
	return func(i *Initializer) {
		i.parameter = strings.TrimSpace(name)
	}
}

// WithParameterClient replaces the SSM client built from the loaded config.
func WithParameterClient(fn func(aws.Config) ParameterGetter) Option {
	return func(i *Initializer) {
		if fn != nil {
			i.newClient = fn
		}
	}
}

// Initializer configures the guest identity at most once.
type Initializer struct {
	loader    ConfigLoader
	newClient func(aws.Config) ParameterGetter
	parameter string

	configured bool
	settings   Settings
	mu         sync.Mutex
}

// NewInitializer creates an initializer. A nil loader uses LoadConfig.
func NewInitializer(loader ConfigLoader, opts ...Option) *Initializer {
	if loader == nil {
		loader = LoadConfig
	}
	i := &Initializer{
		loader: loader,
		newClient: func(cfg aws.Config) ParameterGetter {
			return ssm.NewFromConfig(cfg)
		},
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Configure initializes the identity on the first successful call and
// returns the active settings on every call. An empty poolID is resolved
// from the pool parameter in region. A failed first attempt leaves the
// initializer unconfigured.
func (i *Initializer) Configure(ctx context.Context, poolID, region string) (Settings, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.configured {
		return i.settings, nil
	}

	poolID = strings.TrimSpace(poolID)
	region = strings.TrimSpace(region)
	if poolID == "" {
		if i.parameter == "" {
			return Settings{}, ErrNoPool
		}
		cfg, err := i.loader(ctx, region)
		if err != nil {
			return Settings{}, fmt.Errorf("load aws config: %w", err)
		}
		poolID, err = ResolvePoolID(ctx, i.newClient(cfg), i.parameter)
		if err != nil {
			return Settings{}, err
		}
	}
	if region == "" {
		region = regionOf(poolID)
	}

	i.settings = Settings{IdentityPoolID: poolID, Region: region, AllowGuestAccess: true}
	i.configured = true
	return i.settings, nil
}

// regionOf extracts the region prefix of a pool id ("us-east-1:uuid").
func regionOf(poolID string) string {
	if region, _, ok := strings.Cut(poolID, ":"); ok && region != "" {
		return region
	}
	return ""
}
