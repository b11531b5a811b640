package route53

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	r53 "github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"

	"github.com/dmitrymomot/certflow/core/logger"
)

// API is the subset of the Route53 SDK client used here.
type API interface {
	ListResourceRecordSets(ctx context.Context, params *r53.ListResourceRecordSetsInput, optFns ...func(*r53.Options)) (*r53.ListResourceRecordSetsOutput, error)
	ChangeResourceRecordSets(ctx context.Context, params *r53.ChangeResourceRecordSetsInput, optFns ...func(*r53.Options)) (*r53.ChangeResourceRecordSetsOutput, error)
	GetChange(ctx context.Context, params *r53.GetChangeInput, optFns ...func(*r53.Options)) (*r53.GetChangeOutput, error)
}

// Config holds the hosted zone and credentials.
type Config struct {
	HostedZoneID    string        `env:"ROUTE53_HOSTED_ZONE_ID,required"`
	Region          string        `env:"ROUTE53_REGION" envDefault:"us-east-1"`
	AccessKeyID     string        `env:"ROUTE53_ACCESS_KEY_ID"`
	SecretAccessKey string        `env:"ROUTE53_SECRET_ACCESS_KEY"`
	PageSize        int32         `env:"ROUTE53_PAGE_SIZE" envDefault:"300"`
	SyncInterval    time.Duration `env:"ROUTE53_SYNC_INTERVAL" envDefault:"5s"`
	SyncTimeout     time.Duration `env:"ROUTE53_SYNC_TIMEOUT" envDefault:"3m"`
}

// Option configures a Client.
type Option func(*options)

type options struct {
	api           API
	httpClient    *http.Client
	configOptions []func(*config.LoadOptions) error
	logger        *slog.Logger
}

// WithAPI sets a pre-built SDK client, mainly for tests.
func WithAPI(api API) Option {
	return func(o *options) {
		o.api = api
	}
}

// WithHTTPClient sets the HTTP client used by the SDK.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithConfigOption adds an AWS config load option.
func WithConfigOption(opt func(*config.LoadOptions) error) Option {
	return func(o *options) {
		o.configOptions = append(o.configOptions, opt)
	}
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Client talks to one hosted zone.
type Client struct {
	api          API
	zoneID       string
	pageSize     int32
	syncInterval time.Duration
	syncTimeout  time.Duration
	logger       *slog.Logger
}

// New builds a client. Static credentials are used when both keys are set,
// otherwise the default AWS credential chain applies.
func New(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if cfg.HostedZoneID == "" || cfg.Region == "" {
		return nil, ErrInvalidConfig
	}

	o := &options{logger: logger.Discard()}
	for _, opt := range opts {
		opt(o)
	}

	api := o.api
	if api == nil {
		loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			loadOpts = append(loadOpts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
			))
		}
		if o.httpClient != nil {
			loadOpts = append(loadOpts, config.WithHTTPClient(o.httpClient))
		}
		loadOpts = append(loadOpts, o.configOptions...)

		awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("route53: load aws config: %w", err)
		}
		api = r53.NewFromConfig(awsCfg)
	}

	c := &Client{
		api:          api,
		zoneID:       cfg.HostedZoneID,
		pageSize:     cfg.PageSize,
		syncInterval: cfg.SyncInterval,
		syncTimeout:  cfg.SyncTimeout,
		logger:       o.logger.With(logger.Component("route53")),
	}
	if c.pageSize <= 0 {
		c.pageSize = 300
	}
	if c.syncInterval <= 0 {
		c.syncInterval = 5 * time.Second
	}
	if c.syncTimeout <= 0 {
		c.syncTimeout = 3 * time.Minute
	}
	return c, nil
}

// ListRecordSets returns the page starting at cursor. A nil cursor starts at
// the beginning of the zone.
func (c *Client) ListRecordSets(ctx context.Context, cursor *Cursor) (RecordSetPage, error) {
	in := &r53.ListResourceRecordSetsInput{
		HostedZoneId: aws.String(c.zoneID),
		MaxItems:     aws.Int32(c.pageSize),
	}
	if cursor != nil && cursor.Name != "" {
		in.StartRecordName = aws.String(cursor.Name)
		if cursor.Type != "" {
			in.StartRecordType = types.RRType(cursor.Type)
		}
	}

	out, err := c.api.ListResourceRecordSets(ctx, in)
	if err != nil {
		return RecordSetPage{}, classifyError(err, "list record sets")
	}

	page := RecordSetPage{RecordSets: make([]RecordSet, 0, len(out.ResourceRecordSets))}
	for _, rrs := range out.ResourceRecordSets {
		rs := RecordSet{
			Name: strings.ToLower(DecodeName(aws.ToString(rrs.Name))),
			Type: string(rrs.Type),
			TTL:  aws.ToInt64(rrs.TTL),
		}
		for _, rr := range rrs.ResourceRecords {
			rs.Values = append(rs.Values, aws.ToString(rr.Value))
		}
		page.RecordSets = append(page.RecordSets, rs)
	}
	if out.IsTruncated && out.NextRecordName != nil {
		page.Next = &Cursor{Name: aws.ToString(out.NextRecordName), Type: string(out.NextRecordType)}
	}
	return page, nil
}

// ChangeRecordSets submits one batch and returns the provider change id.
func (c *Client) ChangeRecordSets(ctx context.Context, changes []Change) (string, error) {
	if len(changes) == 0 {
		return "", ErrEmptyChangeBatch
	}
	if len(changes) > MaxChangesPerBatch {
		return "", fmt.Errorf("%w: %d changes", ErrBatchTooLarge, len(changes))
	}

	batch := make([]types.Change, 0, len(changes))
	for _, ch := range changes {
		batch = append(batch, toSDKChange(ch))
	}

	out, err := c.api.ChangeResourceRecordSets(ctx, &r53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(c.zoneID),
		ChangeBatch:  &types.ChangeBatch{Changes: batch},
	})
	if err != nil {
		return "", classifyError(err, "change record sets")
	}
	if out.ChangeInfo == nil {
		return "", fmt.Errorf("route53: change record sets: empty change info")
	}

	id := aws.ToString(out.ChangeInfo.Id)
	c.logger.DebugContext(ctx, "change submitted",
		logger.ID("change_id", id),
		logger.ChangeCount(len(changes)),
	)
	return id, nil
}

// GetChangeStatus reports the propagation state of a change.
func (c *Client) GetChangeStatus(ctx context.Context, changeID string) (ChangeStatus, error) {
	out, err := c.api.GetChange(ctx, &r53.GetChangeInput{Id: aws.String(changeID)})
	if err != nil {
		return "", classifyError(err, "get change")
	}
	if out.ChangeInfo == nil {
		return ChangePending, nil
	}
	return ChangeStatus(out.ChangeInfo.Status), nil
}

// WaitForSync polls a change until it is INSYNC, the sync timeout elapses or
// ctx is done.
func (c *Client) WaitForSync(ctx context.Context, changeID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.syncTimeout)
	defer cancel()

	ticker := time.NewTicker(c.syncInterval)
	defer ticker.Stop()

	for {
		status, err := c.GetChangeStatus(ctx, changeID)
		if err != nil {
			return err
		}
		if status == ChangeInSync {
			return nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %s", ErrSyncTimeout, changeID)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func toSDKChange(ch Change) types.Change {
	ttl := ch.RecordSet.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	rrs := &types.ResourceRecordSet{
		Name: aws.String(ch.RecordSet.Name),
		Type: types.RRType(ch.RecordSet.Type),
		TTL:  aws.Int64(ttl),
	}
	for _, v := range ch.RecordSet.Values {
		rrs.ResourceRecords = append(rrs.ResourceRecords, types.ResourceRecord{Value: aws.String(v)})
	}
	return types.Change{
		Action:            types.ChangeAction(ch.Action),
		ResourceRecordSet: rrs,
	}
}
