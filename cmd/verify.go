package cmd

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/Laisky/errors/v2"
	"github.com/spf13/cobra"

	"github.com/Laisky/plugin-artifact-gateway/internal/web/artifact/integrity"
)

var verifyCMD = &cobra.Command{
	Use:   "verify <file.jar>",
	Short: "verify",
	Long:  `check a local jar for truncation and text-mode corruption`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		size, err := cmd.Flags().GetInt64("expected-size")
		if err != nil {
			return errors.Wrap(err, "read expected-size")
		}

		var expected *int64
		if size > 0 {
			expected = &size
		}

		report, err := verifyFile(args[0], expected, cmd.OutOrStdout())
		if err != nil {
			return errors.WithStack(err)
		}
		if !report.IsValid {
			return errors.Errorf("%s failed integrity check", args[0])
		}

		return nil
	},
}

// verifyFile reads path, prints the report as json and returns it.
func verifyFile(path string, expectedSize *int64, out io.Writer) (*integrity.Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %q", path)
	}

	report := integrity.Verify(data, expectedSize, filepath.Base(path))

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err = enc.Encode(report); err != nil {
		return nil, errors.Wrap(err, "write report")
	}

	return report, nil
}

func init() {
	verifyCMD.Flags().Int64("expected-size", 0, "expected size in bytes, 0 to skip the size check")
	rootCMD.AddCommand(verifyCMD)
}
