package cli

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/analytics/ensemble"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/classifier"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/observation"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/pipeline"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/store"
)

type detectOptions struct {
	file     string
	format   string
	metric   string
	norms    string
	location string
	verbose  bool
}

func newDetectCmd(a *app) *cobra.Command {
	o := &detectOptions{}
	cmd := &cobra.Command{
		Use:   "detect --file observations.csv",
		Short: "Run anomaly detection over a local observation file",
		Long: `Run the detection pipeline over a JSON or CSV file and print the alert
specifications it would create. Nothing is persisted.

JSON input is either an array of {"date", "value"} objects or an object with
a "data" array. CSV input needs "date" and "value" columns. Use "-" to read
from stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runDetect(cmd.Context(), o)
		},
	}
	cmd.Flags().StringVarP(&o.file, "file", "f", "", "observation file (json or csv), - for stdin")
	cmd.Flags().StringVar(&o.format, "format", "", "input format: json or csv (default from file extension)")
	cmd.Flags().StringVarP(&o.metric, "metric", "m", string(observation.MetricTemperature), "metric: temperature or precipitation")
	cmd.Flags().StringVar(&o.norms, "norms", "", "climatological norms YAML file")
	cmd.Flags().StringVar(&o.location, "location", pipeline.DefaultLocation, "location stamped on alerts")
	cmd.Flags().BoolVarP(&o.verbose, "verbose", "v", false, "log pipeline decisions to stderr")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (a *app) runDetect(ctx context.Context, o *detectOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	metric, err := observation.ParseMetric(o.metric)
	if err != nil {
		return err
	}

	format := strings.ToLower(o.format)
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(o.file)), ".")
	}
	if format != "json" && format != "csv" {
		return fmt.Errorf("unknown input format %q: use --format json or csv", format)
	}

	var r io.Reader
	if o.file == "-" {
		r = a.stdin
	} else {
		f, err := os.Open(o.file)
		if err != nil {
			return fmt.Errorf("open observations: %w", err)
		}
		defer f.Close()
		r = f
	}

	var raw []observation.RawPoint
	switch format {
	case "json":
		raw, err = readJSONPoints(r)
	case "csv":
		raw, err = readCSVPoints(r)
	}
	if err != nil {
		return err
	}
	window, err := observation.FromRaw(metric, raw)
	if err != nil {
		return err
	}

	logger := zap.NewNop()
	if o.verbose {
		logger, err = zap.NewDevelopment()
		if err != nil {
			return err
		}
		defer logger.Sync()
	}
	cls, err := classifier.New(classifier.DefaultThresholds(), logger)
	if err != nil {
		return err
	}
	opts := []pipeline.Option{pipeline.WithLogger(logger)}
	if o.norms != "" {
		clim, err := classifier.LoadClimatology(o.norms)
		if err != nil {
			return err
		}
		opts = append(opts, pipeline.WithClimatology(clim))
	}
	st := store.NewMemoryStore()
	defer st.Close()
	p, err := pipeline.New(pipeline.Config{Location: o.location},
		ensemble.NewScorer(ensemble.DefaultConfig()), cls, st, opts...)
	if err != nil {
		return err
	}
	res, err := p.Run(ctx, pipeline.Request{Window: window})
	if err != nil {
		return err
	}
	return a.printJSON(res)
}

func readJSONPoints(r io.Reader) ([]observation.RawPoint, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var pts []observation.RawPoint
		if err := json.Unmarshal(data, &pts); err != nil {
			return nil, fmt.Errorf("parse observations: %w", err)
		}
		return pts, nil
	}
	var body struct {
		Data []observation.RawPoint `json:"data"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("parse observations: %w", err)
	}
	return body.Data, nil
}

// readCSVPoints reads "date" and "value" columns by header name. Values stay
// strings; window validation parses them.
func readCSVPoints(r io.Reader) ([]observation.RawPoint, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	dateCol, valueCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "date":
			dateCol = i
		case "value":
			valueCol = i
		}
	}
	if dateCol < 0 || valueCol < 0 {
		return nil, fmt.Errorf("csv needs date and value columns, got %v", header)
	}
	var pts []observation.RawPoint
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		pts = append(pts, observation.RawPoint{Date: rec[dateCol], Value: rec[valueCol]})
	}
	return pts, nil
}
