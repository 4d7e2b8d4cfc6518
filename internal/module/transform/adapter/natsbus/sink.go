package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jinford/survey-twin/internal/module/transform/application"
	"github.com/jinford/survey-twin/internal/module/transform/domain"
)

// DefaultSubjectPrefix は状態通知のsubjectのデフォルト接頭辞です
const DefaultSubjectPrefix = "surveytwin.transform"

// Config はNATS接続の設定です
type Config struct {
	URL           string
	Name          string
	SubjectPrefix string
	Token         string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// Publisher はメッセージ送信のポートです。*nats.Connが実装する
type Publisher interface {
	PublishMsg(msg *nats.Msg) error
}

// Connect はNATSサーバーに接続します
func Connect(cfg Config, logger *slog.Logger) (*nats.Conn, error) {
	if cfg.URL == "" {
		return nil, errors.New("NATS URL cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "survey-twin"
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

// Sink はジョブの状態遷移をNATSに通知するStatusSink実装です
// subjectは <prefix>.<datasetID>.status
type Sink struct {
	publisher Publisher
	prefix    string
}

var _ domain.StatusSink = (*Sink)(nil)

// NewSink は新しいSinkを作成します
func NewSink(publisher Publisher, prefix string) *Sink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Sink{publisher: publisher, prefix: strings.TrimSuffix(prefix, ".")}
}

// Subject はデータセットの通知先subjectを返します
func (s *Sink) Subject(datasetID string) string {
	// NATSのsubjectトークン区切りとワイルドカードを避ける
	token := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(datasetID)
	return s.prefix + "." + token + ".status"
}

// Publish はジョブのスナップショットをJSONで送信します
func (s *Sink) Publish(ctx context.Context, job *domain.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(application.FromJob(job))
	if err != nil {
		return fmt.Errorf("failed to marshal status snapshot: %w", err)
	}

	msg := nats.NewMsg(s.Subject(job.DatasetID))
	msg.Data = data
	msg.Header.Set("Content-Type", "application/json")
	msg.Header.Set("Job-Status", string(job.Status))
	if err := s.publisher.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish status for %s: %w", job.DatasetID, err)
	}
	return nil
}
