package pipeline

import (
	"context"
	"fmt"
	"io"
	"strings"

	"feedigest/internal/digest"
)

// WriterDistributor renders the digest as plain text to an io.Writer.
// Downstream delivery (email, web) lives behind the Distributor
// interface in other services.
type WriterDistributor struct {
	W io.Writer
}

func (d *WriterDistributor) Distribute(ctx context.Context, run *digest.Run) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Daily digest %s (%s)\n", run.StartedAt.Format("2006-01-02"), run.ID)
	fmt.Fprintf(&sb, "%d articles in %d categories\n\n", run.ArticleCount(), len(run.ByCategory))
	if run.Overview != "" {
		sb.WriteString(run.Overview)
		sb.WriteString("\n\n")
	}

	for category, articles := range run.ByCategory {
		fmt.Fprintf(&sb, "== %s ==\n", category)
		for i, art := range articles {
			flag := ""
			if art.LowConfidence {
				flag = " (unverified)"
			}
			fmt.Fprintf(&sb, "%d. %s%s\n   %s\n", i+1, art.Title, flag, art.URL)
			if len(art.Sources) > 1 {
				fmt.Fprintf(&sb, "   via %s\n", strings.Join(art.Sources, ", "))
			}
		}
		sb.WriteString("\n")
	}

	_, err := io.WriteString(d.W, sb.String())
	return err
}
