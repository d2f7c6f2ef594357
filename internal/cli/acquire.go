package cli

import (
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/cheynewallace/tabby"
	"github.com/dustin/go-humanize"
	"github.com/maxiv-kitscontrols/albaem/internal/config"
	"github.com/maxiv-kitscontrols/albaem/internal/em2"
	"github.com/maxiv-kitscontrols/albaem/internal/export"
	"github.com/maxiv-kitscontrols/albaem/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewAcquireCmd creates the acquire command
func NewAcquireCmd() *cobra.Command {
	var (
		acqTime  time.Duration
		nbPoints int
		output   string
	)

	cmd := &cobra.Command{
		Use:   "acquire",
		Short: "Run a software triggered acquisition and print the currents",
		Long: `Configures the integration time and number of points, starts the
acquisition with internal triggers and reads back every point.

With --output the data is also written as CSV. The extension selects the
compression (.gz, .zst, .xz). A .sha256 sidecar is always written and a
detached .asc signature when a GPG key is configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if nbPoints < 1 {
				return models.NewError(models.ErrInvalidConfig, "points must be positive, got %d", nbPoints)
			}

			cfg := configFrom(cmd)
			ctx := cmd.Context()
			em, err := openDevice(ctx, cfg)
			if err != nil {
				return err
			}
			defer em.Close()

			logrus.Infof("Acquiring %d points of %s on %s:%d", nbPoints, acqTime, em.Host(), em.Port())
			data, err := em2.Acquire(ctx, em, acqTime, nbPoints)
			if err != nil {
				return err
			}

			if err := printData(cmd.OutOrStdout(), data); err != nil {
				return err
			}
			return exportData(cfg, output, data)
		},
	}

	cmd.Flags().DurationVarP(&acqTime, "time", "t", time.Second, "Integration time per point")
	cmd.Flags().IntVarP(&nbPoints, "points", "n", 1, "Number of points")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the data to this CSV file")

	return cmd
}

func printData(w io.Writer, data []models.ChannelData) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	t := tabby.NewCustom(tw)

	header := []interface{}{"POINT"}
	for _, ch := range data {
		header = append(header, ch.Name)
	}
	t.AddHeader(header...)

	for i := 0; i < models.Points(data); i++ {
		row := []interface{}{strconv.Itoa(i)}
		for _, ch := range data {
			row = append(row, humanize.SIWithDigits(ch.Values[i], 3, "A"))
		}
		t.AddLine(row...)
	}
	t.Print()
	return nil
}

func exportData(cfg *config.Config, output string, data []models.ChannelData) error {
	if output == "" {
		return nil
	}

	s, err := loadSigner(cfg)
	if err != nil {
		return err
	}

	res, err := export.WriteCSV(output, data, s)
	if err != nil {
		return err
	}

	logrus.Infof("Wrote %d points to %s (sha256 %s)", res.Points, res.Path, res.SHA256)
	if res.SignaturePath != "" {
		logrus.Infof("Signature: %s", res.SignaturePath)
	} else {
		logrus.Warn("No GPG key configured, export is not signed")
	}
	return nil
}
