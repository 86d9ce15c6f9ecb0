// Package notify sends operator alert emails for deliveries that exhausted
// their attempts.
package notify

import (
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

type Mailer struct {
	Host string
	Port int
	From string
	To   string
	Log  *zap.Logger
}

// TaskFailed emails the operator about a terminally failed delivery. Alert
// delivery is best-effort; a broken SMTP relay must never affect the queue.
func (m *Mailer) TaskFailed(taskID int64, leadID, partnerName, errMsg string) {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.From)
	msg.SetHeader("To", m.To)
	msg.SetHeader("Subject", fmt.Sprintf("Lead delivery failed: task %d (%s)", taskID, partnerName))
	msg.SetBody("text/plain", fmt.Sprintf(
		"Delivery of lead %s to partner %q exhausted all attempts.\n\nLast error: %s\n\nThe task stays in error status until retried manually.\n",
		leadID, partnerName, errMsg,
	))

	d := gomail.NewDialer(m.Host, m.Port, "", "")
	if err := d.DialAndSend(msg); err != nil {
		m.Log.Error("failed to send alert email",
			zap.Int64("task_id", taskID),
			zap.Error(err),
		)
		return
	}

	m.Log.Info("alert email sent", zap.Int64("task_id", taskID))
}
