package series

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/qvantel/solapse/internal/config"
	"github.com/qvantel/solapse/internal/logger"
	"github.com/qvantel/solapse/internal/metrics"
	"github.com/qvantel/solapse/internal/series/pointstores"
	kafka "github.com/segmentio/kafka-go"
)

// Consumer reads space weather updates from Kafka and stores their observations. It stops when the context is
// cancelled or after too many consecutive messages fail to be processed
func Consumer(ctx context.Context, consumer *kafka.Reader, ps pointstores.PointStore, m *metrics.Metrics, conf config.Config) (e error) {
	defer func() {
		if r := recover(); r != nil {
			switch x := r.(type) {
			case string:
				e = errors.New(x)
			case error:
				e = x
			default:
				e = errors.New("unknown panic")
			}
		}
	}()

	pFailures := 0
	logger.Info("Consumer initialized, now reading from " + consumer.Config().Topic)
	for pFailures < conf.Series.FailLimit {
		msg, err := consumer.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("Consumer failed to fetch new message", err)
			return err
		}

		logger.Trace(
			fmt.Sprintf(
				"Message received at topic/partition/offset %v/%v/%v: %s = %s",
				msg.Topic,
				msg.Partition,
				msg.Offset,
				string(msg.Key),
				string(msg.Value),
			),
		)

		event := cloudevents.NewEvent()
		err = json.Unmarshal(msg.Value, &event)
		if err != nil {
			logger.Warning("Consumer failed to unmarshal message (" + err.Error() + ")")
			pFailures++
			continue
		}

		_, err = ProcessUpdate(event, ps, m)
		if err != nil {
			logger.Error("Failed to process message", err)
			pFailures++
			continue
		}
		pFailures = 0

		if err := consumer.CommitMessages(ctx, msg); err != nil {
			logger.Error("Consumer failed to commit messages", err)
			return err
		}
	}

	return errors.New("reached consecutive processing failure limit")
}
