package app

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/bankfabric/guarantee-message-engine/engine/message"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// NewCmdIngest wraps a raw message file in an ingestion envelope and sends
// it to the engine's queue.
func NewCmdIngest(out io.Writer, fs afero.Fs, config *Config) *cobra.Command {
	var (
		file     string
		kindCode string
		sender   string
		receiver string
		priority int
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Send a raw message file to the ingestion queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return doIngest(out, fs, config, file, kindCode, sender, receiver, priority)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "File with the raw payload")
	cmd.Flags().StringVarP(&kindCode, "kind", "k", "", "Message kind code, e.g. MT760")
	cmd.Flags().StringVar(&sender, "sender", "", "Sender identifier (BIC)")
	cmd.Flags().StringVar(&receiver, "receiver", "", "Receiver identifier (BIC)")
	cmd.Flags().IntVar(&priority, "priority", 0, "Processing priority (0-9)")

	return cmd
}

func doIngest(out io.Writer, fs afero.Fs, config *Config, file, kindCode, sender, receiver string, priority int) error {
	if config.Engine.QueueRecvAddr == "" {
		return errors.New("engine.queue_recv_addr is not configured")
	}
	if file == "" || kindCode == "" {
		return errors.New("both --file and --kind are required")
	}
	if _, err := message.KindFromCode(kindCode); err != nil {
		return err
	}
	data, err := afero.ReadFile(fs, file)
	if err != nil {
		return errors.Wrap(err, "cannot read file")
	}

	body, err := json.Marshal(message.Envelope{
		MessageKind: kindCode,
		Sender:      sender,
		Receiver:    receiver,
		Priority:    priority,
		Payload:     string(data),
	})
	if err != nil {
		return err
	}

	// Round-trip through the envelope schema so a bad envelope fails here
	// rather than at the consumer.
	if _, _, err := message.OpenEnvelope(body); err != nil {
		return err
	}

	sess, err := awsSession(logrus.WithField("cmd", "ingest"), config.AWS.SQSProfile, config.AWS.SQSEndpoint)
	if err != nil {
		return err
	}
	res, err := sqs.New(sess).SendMessage(&sqs.SendMessageInput{
		QueueUrl:    aws.String(config.Engine.QueueRecvAddr),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return errors.Wrap(err, "sending to queue")
	}
	fmt.Fprintf(out, "Message sent, id %s\n", aws.StringValue(res.MessageId))
	return nil
}
