package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/creditsync/pkg/config"
	"github.com/angelmondragon/creditsync/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

// Client publishes entitlement events. Topics are provisioned out of band;
// the client only verifies they exist and never creates or subscribes.
type Client struct {
	ps        *pubsub.Client
	projectID string
	cfg       config.PubSubConfig
}

// NewClient dials Pub/Sub and fails unless the entitlements topic exists.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger, opts ...option.ClientOption) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	if creds := strings.TrimSpace(gcp.CredentialsJSON); creds != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	}

	ps, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{ps: ps, projectID: projectID, cfg: cfg}

	if err := c.Ping(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "topic", topicPath(projectID, cfg.EntitlementsTopic)), "pubsub client initialized")
	}
	return c, nil
}

// topicPath expands a short topic id to its resource name. Full resource
// names pass through unchanged.
func topicPath(projectID, name string) string {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return ""
	case strings.HasPrefix(name, "projects/") && strings.Contains(name, "/topics/"):
		return name
	case projectID == "":
		return ""
	default:
		return "projects/" + projectID + "/topics/" + name
	}
}

// Publisher returns a batching publisher for topic, or nil when the name
// cannot be resolved. Callers own the handle and must Stop it.
func (c *Client) Publisher(topic string) *pubsub.Publisher {
	if c == nil || c.ps == nil {
		return nil
	}
	path := topicPath(c.projectID, topic)
	if path == "" {
		return nil
	}
	p := c.ps.Publisher(path)
	if c.cfg.PublishDelay > 0 {
		p.PublishSettings.DelayThreshold = c.cfg.PublishDelay
	}
	if c.cfg.PublishBatchSize > 0 {
		p.PublishSettings.CountThreshold = c.cfg.PublishBatchSize
	}
	return p
}

func (c *Client) EntitlementsPublisher() *pubsub.Publisher {
	return c.Publisher(c.cfg.EntitlementsTopic)
}

// Ping checks that the entitlements topic is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.ps == nil {
		return errNotInitialized
	}
	name := strings.TrimSpace(c.cfg.EntitlementsTopic)
	path := topicPath(c.projectID, name)
	if path == "" {
		return errors.New("pubsub topic name is required")
	}

	_, err := c.ps.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: path})
	switch {
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("topic %q does not exist", name)
	case err != nil:
		return fmt.Errorf("checking topic %q: %w", name, err)
	}
	return nil
}

func (c *Client) Close() error {
	if c == nil || c.ps == nil {
		return nil
	}
	return c.ps.Close()
}
