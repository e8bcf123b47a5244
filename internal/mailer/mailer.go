// Package mailer delivers reminder emails.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"golang.org/x/time/rate"

	logx "cftrack/pkg/logx"
)

var ErrDisabled = errors.New("mailer disabled")

type Message struct {
	To      string
	ToName  string
	Subject string
	HTML    string
	Text    string
}

type Sender interface {
	Send(ctx context.Context, m Message) error
}

type Config struct {
	FromEmail  string
	FromName   string
	Region     string
	RatePerSec float64
}

// Disabled rejects every message. It is used when no sender address is
// configured.
type Disabled struct{}

func (Disabled) Send(context.Context, Message) error { return ErrDisabled }

// SESAPI is the part of the SES v2 client the sender calls.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

type SES struct {
	api SESAPI
	log logx.Logger

	mu      sync.RWMutex
	from    string
	limiter *rate.Limiter
}

// New returns Disabled when cfg has no sender address, otherwise an SES
// sender using the default AWS credential chain.
func New(ctx context.Context, cfg Config, log logx.Logger) (Sender, error) {
	if strings.TrimSpace(cfg.FromEmail) == "" {
		log.Info("mail disabled: no from_email configured")
		return Disabled{}, nil
	}
	opts := []func(*awsconfig.LoadOptions) error{}
	if r := strings.TrimSpace(cfg.Region); r != "" {
		opts = append(opts, awsconfig.WithRegion(r))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	log.Info("mail enabled", logx.String("from", cfg.FromEmail), logx.String("region", awsCfg.Region))
	return NewSES(sesv2.NewFromConfig(awsCfg), cfg, log), nil
}

func NewSES(api SESAPI, cfg Config, log logx.Logger) *SES {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &SES{api: api, log: log}
	s.Apply(cfg)
	return s
}

// Apply swaps the sender address and send rate.
func (s *SES) Apply(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	from := cfg.FromEmail
	if cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromEmail)
	}
	burst := max(int(cfg.RatePerSec), 1)

	s.mu.Lock()
	s.from = from
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	s.mu.Unlock()
}

func content(v string) *types.Content {
	return &types.Content{Data: aws.String(v), Charset: aws.String("UTF-8")}
}

func (s *SES) Send(ctx context.Context, m Message) error {
	if strings.TrimSpace(m.To) == "" {
		return errors.New("mailer: empty recipient")
	}
	s.mu.RLock()
	from, lim := s.from, s.limiter
	s.mu.RUnlock()

	if err := lim.Wait(ctx); err != nil {
		return err
	}

	body := &types.Body{Text: content(m.Text)}
	if m.HTML != "" {
		body.Html = content(m.HTML)
	}
	out, err := s.api.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: []string{m.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{Subject: content(m.Subject), Body: body},
		},
	})
	if err != nil {
		return fmt.Errorf("send email to %s: %w", m.To, err)
	}
	if out != nil && out.MessageId != nil {
		s.log.Debug("email sent", logx.String("to", m.To), logx.String("message_id", *out.MessageId))
	}
	return nil
}
