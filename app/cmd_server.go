package app

import (
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"

	"github.com/bankfabric/guarantee-message-engine/alert"
	"github.com/bankfabric/guarantee-message-engine/engine"
	"github.com/bankfabric/guarantee-message-engine/engine/store"
	"github.com/bankfabric/guarantee-message-engine/refnum"
	"github.com/bankfabric/guarantee-message-engine/version"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func NewCmdServer(logger logrus.FieldLogger, config *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Start the processing engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.WithField("v", version.VERSION).Info("Starting server...")
			return doServer(logger, config)
		},
	}
}

func doServer(logger logrus.FieldLogger, config *Config) error {
	var e *engine.Engine
	var g run.Group
	{
		var err error
		e, err = server(logger, config)
		if err != nil {
			return err
		}

		g.Add(func() error {
			e.Run()
			return nil
		}, func(error) {
			e.Stop()
		})
	}
	{
		ln, err := net.Listen("tcp", ":6060")
		if err != nil {
			return err
		}
		logger.WithField("addr", ln.Addr().String()).Info("HTTP server listening")

		g.Add(func() error {
			mux := http.NewServeMux()

			// Health check.
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				fmt.Fprintln(w, "OK")
			})

			// Prometheus metrics.
			mux.Handle("/metrics", promhttp.Handler())

			// Profiling data.
			mux.HandleFunc("/debug/pprof/", pprof.Index)
			mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
			mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
			mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
			mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
			mux.Handle("/debug/pprof/block", pprof.Handler("block"))
			mux.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
			mux.Handle("/debug/pprof/heap", pprof.Handler("heap"))
			mux.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))

			return http.Serve(ln, mux)
		}, func(error) {
			ln.Close()
		})
	}
	{
		cancel := make(chan struct{})

		g.Add(func() error {
			err := interrupt(cancel, e)
			logger.Warn("Shutting down...")
			return err
		}, func(error) {
			close(cancel)
		})
	}

	return g.Run()
}

func server(logger logrus.FieldLogger, config *Config) (*engine.Engine, error) {
	metrics := engine.NewMetrics(prometheus.DefaultRegisterer)

	var st *store.Store
	{
		sess, err := awsSession(logger, config.AWS.DynamoDBProfile, config.AWS.DynamoDBEndpoint)
		if err != nil {
			return nil, err
		}
		st = store.New(dynamodb.New(sess),
			config.Engine.MessagesTable,
			config.Engine.GuaranteesTable,
			config.Engine.AmendmentsTable)
	}

	var notifier alert.Notifier
	{
		if config.Engine.AlertsTopicAddr == "" {
			notifier = alert.NewLogNotifier(logger.WithField("component", "alert"))
		} else {
			sess, err := awsSession(logger, config.AWS.SNSProfile, config.AWS.SNSEndpoint)
			if err != nil {
				return nil, err
			}
			notifier = alert.NewSNSNotifier(
				logger.WithField("component", "alert"),
				sns.New(sess), config.Engine.AlertsTopicAddr)
		}
	}

	var sqsClient sqsiface.SQSAPI
	{
		if config.Engine.QueueRecvAddr != "" {
			sess, err := awsSession(logger, config.AWS.SQSProfile, config.AWS.SQSEndpoint)
			if err != nil {
				return nil, err
			}
			sqsClient = sqs.New(sess)
		}
	}

	return engine.New(
		logger, st, refnum.New(), notifier, metrics,
		sqsClient, config.Engine.QueueRecvAddr,
		engine.Config{
			MaxRetries:     config.Engine.MaxRetries,
			RetryDelay:     config.Engine.RetryDelay,
			StuckThreshold: config.Engine.StuckThreshold,
			ScanInterval:   config.Engine.ScanInterval,
			Workers:        config.Engine.Workers,
		}), nil
}

type logrusProxy struct {
	logger logrus.FieldLogger
}

func (l logrusProxy) Log(args ...interface{}) {
	l.logger.WithField("client", "aws").Debug(args...)
}

// awsSession returns a session using NewSessionWithOptions meaning that it
// relies on the SDK defaults but also the user config files and environment.
func awsSession(logger logrus.FieldLogger, profile, endpoint string) (*session.Session, error) {
	options := session.Options{}
	if profile != "" {
		options.Profile = profile
	}
	if endpoint != "" {
		options.Config.WithEndpoint(endpoint)
	}
	if logrus.GetLevel() == logrus.DebugLevel {
		options.Config.WithCredentialsChainVerboseErrors(true)
	}
	options.Config.WithLogger(logrusProxy{logger: logger})
	return session.NewSessionWithOptions(options)
}
