// Package containers removes helper containers the toolbox script spawns,
// identified by the job-id label it stamps on them.
package containers

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// JobLabel is the container label the script sets to the job id.
const JobLabel = "m4brew.job"

const cleanupTimeout = 15 * time.Second

// Killer tears down labeled containers via a docker-compatible CLI.
type Killer struct {
	Binary string
}

func (k Killer) KillSubResources(ctx context.Context, jobID string) error {
	bin := k.Binary
	if bin == "" {
		bin = "docker"
	}
	ctx, cancel := context.WithTimeout(ctx, cleanupTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, bin,
		"ps", "-aq", "--filter", "label="+JobLabel+"="+jobID).Output()
	if err != nil {
		return fmt.Errorf("list task containers: %w", err)
	}

	ids := strings.Fields(string(out))
	if len(ids) == 0 {
		return nil
	}

	args := append([]string{"rm", "-f"}, ids...)
	if err := exec.CommandContext(ctx, bin, args...).Run(); err != nil {
		return fmt.Errorf("remove task containers: %w", err)
	}

	log.Info().Str("job_id", jobID).Int("count", len(ids)).Msg("removed task containers")
	return nil
}
