package app

import (
	"io/ioutil"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const defaultConfig = `# Guarantee Message Processing Engine

################################## LOGGING ####################################

[logging]

#
# Logging verbosity level.
# Supported values: "DEBUG", "INFO", "WARN", "ERROR", "FATAL" or "PANIC".
#
level = "INFO"

################################## ENGINE #####################################

[engine]

#
# Names of the DynamoDB tables holding messages and aggregates.
#
messages_table = "guarantee_engine_messages"
guarantees_table = "guarantee_engine_guarantees"
amendments_table = "guarantee_engine_amendments"

#
# AWS SQS queue URL the engine ingests envelopes from, e.g.
# "https://queue.amazonaws.com/80398EXAMPLE/MyQueue". Leave empty to run
# without the queue front end.
#
queue_recv_addr = ""

#
# AWS SNS topic ARN operational alerts are published to. Leave empty to log
# alerts instead.
#
alerts_topic_addr = ""

#
# Retry/failure coordination.
#
max_retries = 3
retry_delay = "5m"
stuck_threshold = "30m"
scan_interval = "1m"

#
# Number of concurrent processing workers.
#
workers = 4

################################## AWS ########################################

[aws]

dynamodb_profile = ""
dynamodb_endpoint = ""

sqs_profile = ""
sqs_endpoint = ""

sns_profile = ""
sns_endpoint = ""
`

type Config struct {
	v *viper.Viper

	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`

	Engine struct {
		MessagesTable   string        `mapstructure:"messages_table"`
		GuaranteesTable string        `mapstructure:"guarantees_table"`
		AmendmentsTable string        `mapstructure:"amendments_table"`
		QueueRecvAddr   string        `mapstructure:"queue_recv_addr"`
		AlertsTopicAddr string        `mapstructure:"alerts_topic_addr"`
		MaxRetries      int           `mapstructure:"max_retries"`
		RetryDelay      time.Duration `mapstructure:"retry_delay"`
		StuckThreshold  time.Duration `mapstructure:"stuck_threshold"`
		ScanInterval    time.Duration `mapstructure:"scan_interval"`
		Workers         int           `mapstructure:"workers"`
	} `mapstructure:"engine"`

	AWS struct {
		DynamoDBProfile  string `mapstructure:"dynamodb_profile"`
		DynamoDBEndpoint string `mapstructure:"dynamodb_endpoint"`
		SQSProfile       string `mapstructure:"sqs_profile"`
		SQSEndpoint      string `mapstructure:"sqs_endpoint"`
		SNSProfile       string `mapstructure:"sns_profile"`
		SNSEndpoint      string `mapstructure:"sns_endpoint"`
	} `mapstructure:"aws"`
}

func (c Config) Validate() error {
	if c.Engine.MaxRetries < 0 {
		return errors.New("engine.max_retries must not be negative")
	}
	if c.Engine.RetryDelay < 0 {
		return errors.New("engine.retry_delay must not be negative")
	}
	return nil
}

func (c Config) String() string {
	tmpfile, err := ioutil.TempFile("", "config.*.toml")
	if err != nil {
		return err.Error()
	}
	err = c.v.WriteConfigAs(tmpfile.Name())
	if err != nil {
		return err.Error()
	}
	blob, err := ioutil.ReadAll(tmpfile)
	if err != nil {
		return err.Error()
	}
	return string(blob)
}

func loadConfig(c *Config) error {
	v := viper.New()

	v.SetEnvPrefix("GUARANTEE_ENGINE")
	v.AutomaticEnv()

	v.SetConfigName("guarantee-message-engine")
	v.SetConfigType("toml")
	v.AddConfigPath("$HOME/.config/")
	v.AddConfigPath("/etc/guarantee-engine/")

	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	// Read our default configuration.
	if err := v.ReadConfig(strings.NewReader(defaultConfig)); err != nil {
		panic(err) // Not in the user path.
	}

	// Include configuration file provided by the user.
	if err := v.MergeInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return errors.Wrap(err, "configuration unmarshaling failed")
	}

	if err := c.Validate(); err != nil {
		return errors.Wrap(err, "config did not pass validation")
	}

	c.v = v

	return nil
}
