package messenger

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/model"
)

// TextSender is the subset of Client the notifier needs.
type TextSender interface {
	SendText(ctx context.Context, recipientID, text, tag string) error
}

// AdminNotifier forwards operational notices to the administrator's
// Messenger account. It is a sink: delivery failures are logged, never
// returned.
type AdminNotifier struct {
	sender  TextSender
	adminID string
	log     *zap.Logger
}

// NewAdminNotifier constructs an AdminNotifier. An empty adminID turns every
// notice into a logged no-op.
func NewAdminNotifier(sender TextSender, adminID string, log *zap.Logger) *AdminNotifier {
	return &AdminNotifier{sender: sender, adminID: adminID, log: log}
}

// Notify sends message to the administrator.
func (n *AdminNotifier) Notify(ctx context.Context, message string) {
	if n.adminID == "" {
		n.log.Warn("admin messenger id not configured, dropping notice", zap.String("notice", message))
		return
	}
	if err := n.sender.SendText(ctx, n.adminID, "🔔 Admin notice:\n\n"+message, ""); err != nil {
		n.log.Error("admin notice failed", zap.Error(err))
		return
	}
	n.log.Info("admin notice sent")
}

// FormatDailySummary renders the evening report.
func FormatDailySummary(s model.DailySummary) string {
	return fmt.Sprintf("📊 Daily summary\n\n"+
		"📝 New leads: %d\n"+
		"💰 Payments: %d (%d sum)\n"+
		"👥 Active students: %d\n"+
		"📚 Open groups: %d\n"+
		"✅ Full groups: %d",
		s.NewLeads, s.Payments, s.TotalAmount, s.ActiveStudents, s.OpenGroups, s.FullGroups)
}
