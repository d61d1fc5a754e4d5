package app

import (
	"fmt"
	"io"

	"github.com/bankfabric/guarantee-message-engine/engine/message"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// NewCmdValidate parses and validates a raw message file offline, printing
// every violation found. Useful to check payloads before they hit the queue.
func NewCmdValidate(out io.Writer, fs afero.Fs) *cobra.Command {
	var (
		file     string
		kindCode string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Parse and validate a raw message file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return doValidate(out, fs, file, kindCode)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "File with the raw payload")
	cmd.Flags().StringVarP(&kindCode, "kind", "k", "", "Message kind code, e.g. MT760")

	return cmd
}

func doValidate(out io.Writer, fs afero.Fs, file, kindCode string) error {
	if file == "" || kindCode == "" {
		return errors.New("both --file and --kind are required")
	}
	kind, err := message.KindFromCode(kindCode)
	if err != nil {
		return err
	}
	data, err := afero.ReadFile(fs, file)
	if err != nil {
		return errors.Wrap(err, "cannot read file")
	}
	fields, err := message.Parse(kind, string(data))
	if err != nil {
		return errors.Wrap(err, "parse failed")
	}
	fmt.Fprintf(out, "Parsed %s message, reference %s\n", kind, fields.Common().Reference)
	if verr := message.Validate(fields); verr != nil {
		fmt.Fprintln(out, "The message is invalid!")
		for _, v := range verr.Violations {
			fmt.Fprintf(out, "- %s: %s\n", v.Field, v.Reason)
		}
		return errors.New("validation failed")
	}
	fmt.Fprintln(out, "The message is valid.")
	return nil
}
