package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/rs/zerolog"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// ---------------------------------------------------------------------------
// Log senders (development)
// ---------------------------------------------------------------------------

// LogSender writes every message to the logger instead of delivering it. It
// satisfies EmailSender, PushSender and SMSSender.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger.With().Str("component", "log-sender").Logger()}
}

func (s *LogSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.logger.Info().Str("channel", "email").Str("to", to).Str("subject", subject).Str("body", body).Msg("notification")
	return nil
}

func (s *LogSender) Publish(_ context.Context, group, title, body string) error {
	s.logger.Info().Str("channel", "push").Str("group", group).Str("title", title).Str("body", body).Msg("notification")
	return nil
}

func (s *LogSender) SendSMS(_ context.Context, to, body string) error {
	s.logger.Info().Str("channel", "sms").Str("to", to).Str("body", body).Msg("notification")
	return nil
}

// ---------------------------------------------------------------------------
// Amazon SES
// ---------------------------------------------------------------------------

type sesAPI interface {
	SendEmail(ctx context.Context, in *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SESSender struct {
	client sesAPI
	from   string
}

func NewSESSender(client sesAPI, from string) *SESSender {
	return &SESSender{client: client, from: from}
}

func (s *SESSender) SendEmail(ctx context.Context, to, subject, body string) error {
	_, err := s.client.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &sestypes.Destination{ToAddresses: []string{to}},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(subject)},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: aws.String(body)},
			},
		},
		Source: aws.String(s.from),
	})
	if err != nil {
		return fmt.Errorf("ses send: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// SendGrid
// ---------------------------------------------------------------------------

type sendgridAPI interface {
	Send(email *mail.SGMailV3) (*rest.Response, error)
}

type SendGridSender struct {
	client   sendgridAPI
	from     string
	fromName string
}

func NewSendGridSender(apiKey, from, fromName string) *SendGridSender {
	return &SendGridSender{client: sendgrid.NewSendClient(apiKey), from: from, fromName: fromName}
}

func (s *SendGridSender) SendEmail(_ context.Context, to, subject, body string) error {
	msg := mail.NewSingleEmail(mail.NewEmail(s.fromName, s.from), subject, mail.NewEmail("", to), body, "")
	resp, err := s.client.Send(msg)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid send: status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Amazon SNS (push topics and SMS)
// ---------------------------------------------------------------------------

type snsAPI interface {
	Publish(ctx context.Context, in *awssns.PublishInput, optFns ...func(*awssns.Options)) (*awssns.PublishOutput, error)
}

// SNSSender publishes push messages to one topic per recipient group, named
// topicPrefix+group, and sends SMS directly to phone numbers.
type SNSSender struct {
	client      snsAPI
	topicPrefix string
}

func NewSNSSender(client snsAPI, topicPrefix string) *SNSSender {
	return &SNSSender{client: client, topicPrefix: topicPrefix}
}

var topicNameUnsafe = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// TopicARN returns the topic for group. Characters SNS rejects become '_'.
func (s *SNSSender) TopicARN(group string) string {
	return s.topicPrefix + topicNameUnsafe.ReplaceAllString(group, "_")
}

func (s *SNSSender) Publish(ctx context.Context, group, title, body string) error {
	msg := map[string]any{
		"default": body,
		"GCM": map[string]any{
			"notification": map[string]string{"title": title, "body": body},
		},
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = s.client.Publish(ctx, &awssns.PublishInput{
		TopicArn:         aws.String(s.TopicARN(group)),
		Subject:          aws.String(title),
		Message:          aws.String(string(raw)),
		MessageStructure: aws.String("json"),
	})
	if err != nil {
		return fmt.Errorf("sns publish to %s: %w", group, err)
	}
	return nil
}

func (s *SNSSender) SendSMS(ctx context.Context, to, body string) error {
	_, err := s.client.Publish(ctx, &awssns.PublishInput{
		PhoneNumber: aws.String(to),
		Message:     aws.String(body),
	})
	if err != nil {
		return fmt.Errorf("sns sms: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Construction from configuration
// ---------------------------------------------------------------------------

// Senders groups the configured channel senders.
type Senders struct {
	Email EmailSender
	Push  PushSender
	SMS   SMSSender
}

// SenderConfig selects the provider per channel.
type SenderConfig struct {
	EmailProvider  string // log | ses | sendgrid
	EmailFrom      string
	EmailFromName  string
	SendGridAPIKey string
	PushProvider   string // log | sns
	SNSTopicPrefix string
	AWSRegion      string
}

// NewSenders builds senders for cfg. AWS clients share one loaded config.
func NewSenders(ctx context.Context, cfg SenderConfig, logger zerolog.Logger) (*Senders, error) {
	logSender := NewLogSender(logger)
	out := &Senders{Email: logSender, Push: logSender, SMS: logSender}

	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		c, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return aws.Config{}, fmt.Errorf("load aws config: %w", err)
		}
		awsCfg = &c
		return c, nil
	}

	switch cfg.EmailProvider {
	case "", "log":
	case "ses":
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		out.Email = NewSESSender(ses.NewFromConfig(c), cfg.EmailFrom)
	case "sendgrid":
		out.Email = NewSendGridSender(cfg.SendGridAPIKey, cfg.EmailFrom, cfg.EmailFromName)
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.EmailProvider)
	}

	switch cfg.PushProvider {
	case "", "log":
	case "sns":
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		snsSender := NewSNSSender(awssns.NewFromConfig(c), cfg.SNSTopicPrefix)
		out.Push = snsSender
		out.SMS = snsSender
	default:
		return nil, fmt.Errorf("unknown push provider %q", cfg.PushProvider)
	}

	return out, nil
}
