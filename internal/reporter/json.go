package reporter

import (
	"encoding/json"
	"fmt"

	"pkt.systems/postrun/internal/engine"
	"pkt.systems/pslog"
)

type jsonReporter struct {
	opts   FileOptions
	logger pslog.Base
}

func (j *jsonReporter) Name() string { return JSON }

// Done writes the masked summary as indented JSON.
func (j *jsonReporter) Done(sum engine.Summary) error {
	data, err := json.MarshalIndent(maskSummary(sum), "", "  ")
	if err != nil {
		return fmt.Errorf("%s: %w", JSON, err)
	}
	if err := writeExport(JSON, j.opts.Export, data); err != nil {
		return err
	}
	j.logger.Info("report written", "reporter", JSON, "path", j.opts.Export)
	return nil
}
