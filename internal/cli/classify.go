package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/alert"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/classifier"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/observation"
)

type classifyOptions struct {
	value  float64
	metric string
	mean   float64
	std    float64
	score  float64
	date   string
	norms  string
}

type classifyOutput struct {
	AlertType   alert.Type      `json:"alert_type,omitempty"`
	Severity    alert.Severity  `json:"severity,omitempty"`
	Matched     bool            `json:"matched"`
	Description string          `json:"description,omitempty"`
	Norm        classifier.Norm `json:"norm"`
}

func newClassifyCmd(a *app) *cobra.Command {
	o := &classifyOptions{}
	cmd := &cobra.Command{
		Use:   "classify --value 41.2 --mean 18 --std 3",
		Short: "Classify a single reading against a norm",
		Long: `Classify one reading the way the detection pipeline does. The norm comes
from --mean/--std, or from a norms file and --date when both are given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runClassify(cmd, o)
		},
	}
	cmd.Flags().Float64Var(&o.value, "value", 0, "observed value")
	cmd.Flags().StringVarP(&o.metric, "metric", "m", string(observation.MetricTemperature), "metric: temperature or precipitation")
	cmd.Flags().Float64Var(&o.mean, "mean", 0, "norm mean")
	cmd.Flags().Float64Var(&o.std, "std", 0, "norm standard deviation")
	cmd.Flags().Float64Var(&o.score, "score", 0.5, "anomaly score in [0,1]")
	cmd.Flags().StringVar(&o.date, "date", "", "observation date, selects the monthly norm")
	cmd.Flags().StringVar(&o.norms, "norms", "", "climatological norms YAML file")
	_ = cmd.MarkFlagRequired("value")
	return cmd
}

func (a *app) runClassify(cmd *cobra.Command, o *classifyOptions) error {
	metric, err := observation.ParseMetric(o.metric)
	if err != nil {
		return err
	}
	if o.score < 0 || o.score > 1 {
		return fmt.Errorf("--score must be between 0 and 1, got %g", o.score)
	}

	norm := classifier.Norm{Mean: o.mean, Std: o.std}
	if !cmd.Flags().Changed("mean") || !cmd.Flags().Changed("std") {
		if o.norms == "" || o.date == "" {
			return fmt.Errorf("pass --mean and --std, or --norms with --date")
		}
		clim, err := classifier.LoadClimatology(o.norms)
		if err != nil {
			return err
		}
		ts, err := observation.ParseTimestamp(o.date)
		if err != nil {
			return err
		}
		n, ok := clim.Lookup(metric, ts.Month())
		if !ok {
			return fmt.Errorf("no %s norm for %s", metric, ts.Month())
		}
		norm = n
	}

	cls, err := classifier.New(classifier.DefaultThresholds(), nil)
	if err != nil {
		return err
	}
	obs := observation.Observation{Timestamp: time.Now().UTC(), Metric: metric, Value: o.value}
	out := classifyOutput{Norm: norm}
	if res, ok := cls.Classify(obs, o.score, norm); ok {
		out.Matched = true
		out.AlertType = res.Type
		out.Severity = res.Severity
		out.Description = alert.Describe(res.Type, res.Severity, o.value, metric)
	}
	return a.printJSON(out)
}
