package main

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/classifier"
	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/config"
	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/decision"
	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/logging"
	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/queue"
	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/worker"
)

type commandContext struct {
	configFlag *string
	levelFlag  *string

	configOnce sync.Once
	config     config.Config
	configErr  error
}

func newCommandContext(configFlag, levelFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag, levelFlag: levelFlag}
}

func (c *commandContext) ensureConfig() (config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.levelFlag != nil && strings.TrimSpace(*c.levelFlag) != "" {
			cfg.Log.Level = strings.TrimSpace(*c.levelFlag)
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) logger(service string) (*zap.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return logging.New(service, cfg.Log.Level)
}

func openBroker(cfg config.Config, logger *zap.Logger) (queue.Broker, error) {
	broker, err := queue.Open(queue.Options{
		Kind:       queue.Kind(cfg.Broker.Kind),
		Brokers:    cfg.Broker.Brokers,
		RedisURL:   cfg.Broker.RedisURL,
		BufferSize: cfg.Broker.BufferSize,
		ClientID:   cfg.Broker.ClientID,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open broker: %w", err)
	}
	return broker, nil
}

func newClassifier(cfg config.Config, logger *zap.Logger) *classifier.Service {
	var primary classifier.Strategy
	if cfg.Classifier.Enabled && strings.TrimSpace(cfg.Classifier.APIKey) != "" {
		primary = classifier.NewRemote(classifier.RemoteConfig{
			APIKey:   cfg.Classifier.APIKey,
			Endpoint: cfg.Classifier.APIURL,
			Model:    cfg.Classifier.Model,
		})
	} else {
		logger.Info("remote classifier disabled, using keyword heuristic only")
	}
	return classifier.NewService(primary, cfg.Classifier.Timeout(), logger)
}

// newWorkerPool wires a pool whose workers each own a subscriber on the
// content topic. The returned publisher is owned by the caller.
func newWorkerPool(cfg config.Config, broker queue.Broker, logger *zap.Logger) (*worker.Pool, queue.Publisher, error) {
	results, err := broker.Publisher(cfg.Broker.ResultTopic)
	if err != nil {
		return nil, nil, fmt.Errorf("open result publisher: %w", err)
	}
	engine := decision.NewEngine(decision.NewRuleSet(cfg.Rules))
	processor := worker.NewProcessor(
		newClassifier(cfg, logger.Named("classifier")),
		engine,
		results,
		worker.WithPublishRetries(uint64(cfg.Worker.PublishRetries), 0),
		worker.WithLogger(logger.Named("processor")),
	)
	pool := worker.NewPool(cfg.Worker.Count, func() (queue.Subscriber, error) {
		return broker.Subscriber(cfg.Broker.ContentTopic, cfg.Broker.WorkerGroup)
	}, processor, logger.Named("worker"))
	return pool, results, nil
}
