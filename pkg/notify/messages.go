package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"time"

	"github.com/vcloud-bot/vcloud-bot/pkg/models"
	"github.com/vcloud-bot/vcloud-bot/pkg/pipeline"
	"github.com/vcloud-bot/vcloud-bot/pkg/utils"
)

// User-facing texts, HTML parse mode
const (
	HelpText = "🚀 <b>vcloud.zip HEAVY DUTY EXTRACTOR</b>\n" +
		"✅ <b>KOYEB POWER - NO LIMITS</b>\n" +
		"📁 Send .txt file with URLs\n" +
		"📄 Output: Title|https://vcloud.zip/...\n" +
		"⚠️ <i>1000+ URLs supported!</i>"
	ReceivedText            = "📥 <b>Heavy File Received!</b>\n⚡ <i>KOYEB Processing Started</i>"
	NoValidURLsText         = "❌ No valid URLs found."
	UnsupportedDocumentText = "📄 Please send a <b>.txt</b> file with one URL per line."
	NoActiveRunsText        = "💤 No active runs."

	maxErrorChars = 100
)

// TruncatedText warns that only the first limit of total URLs will be processed
func TruncatedText(total, limit int) string {
	return fmt.Sprintf("⚠️ <b>Large file!</b>\n📊 URLs: %d (limited to %d)", total, limit)
}

// FoundText announces the size of the seed list
func FoundText(n int) string {
	return fmt.Sprintf("🔍 <b>Found %d URLs</b>\n🚀 <i>Heavy processing...</i>", n)
}

// BatchText is the progress message sent before each batch
func BatchText(p models.BatchProgress) string {
	return fmt.Sprintf("🔄 <b>Batch %d/%d</b>\n📊 Progress: %d%%", p.BatchIndex, p.TotalBatches, p.Percent)
}

// CompleteText summarizes a finished run
func CompleteText(result models.BulkResult) string {
	return fmt.Sprintf("✅ <b>PROCESSING COMPLETE!</b>\n📊 URLs: %d\n🔗 Links: %d\n📁 <i>Sending file...</i>",
		result.ProcessedURLs, result.TotalVcloudLinks)
}

// ErrorText reports an ingress failure with the first 100 characters of its message
func ErrorText(err error) string {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return "❌ <b>Error:</b> " + html.EscapeString(utils.Truncate(msg, maxErrorChars))
}

// BatchReporter sends BatchText to chatID before each batch
func BatchReporter(n Notifier, chatID int64) pipeline.Reporter {
	return pipeline.ReporterFunc(func(ctx context.Context, p models.BatchProgress) error {
		return n.SendText(ctx, chatID, BatchText(p))
	})
}

// SendResult delivers the completion summary followed by the result file and returns the file name
func SendResult(ctx context.Context, n Notifier, chatID int64, result models.BulkResult, prefix string, now time.Time) (string, error) {
	textErr := n.SendText(ctx, chatID, CompleteText(result))
	name := pipeline.ResultFilename(prefix, result.TotalVcloudLinks, now)
	fileErr := n.SendFile(ctx, chatID, pipeline.FormatResults(result), name)
	return name, errors.Join(textErr, fileErr)
}
