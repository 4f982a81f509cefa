package notifications

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/library-service/cmd/api/book"
)

const (
	topicBookCreated = "/New_book_created"
	topicLoanOverdue = "/Loan_overdue"
)

// Ntfy publishes plain text messages to ntfy.sh style topics under baseURL.
type Ntfy struct {
	baseURL string
	enabled bool
	client  *http.Client
}

func NewNtfy(enableNotifications bool, notificationsBaseURL string, client *http.Client) *Ntfy {
	return &Ntfy{
		baseURL: strings.TrimSuffix(notificationsBaseURL, "/"),
		enabled: enableNotifications,
		client:  client,
	}
}

func (ntf *Ntfy) BookCreated(ctx context.Context, b book.Book) error {
	msg := fmt.Sprintf("New book created:\nTitle: %s\nCopies available: %d", b.Title, b.CopiesAvailable)
	return ntf.publish(ctx, topicBookCreated, msg)
}

func (ntf *Ntfy) LoanOverdue(ctx context.Context, l book.Loan) error {
	msg := fmt.Sprintf("Loan overdue:\nLoan: %s\nMember: %s\nBook: %s\nDue at: %s",
		l.ID, l.MemberID, l.BookID, l.DueAt.Format("2006-01-02 15:04"))
	return ntf.publish(ctx, topicLoanOverdue, msg)
}

// A disabled notifier drops every message without error.
func (ntf *Ntfy) publish(ctx context.Context, topic, msg string) error {
	if !ntf.enabled {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ntf.baseURL+topic, strings.NewReader(msg))
	if err != nil {
		return fmt.Errorf("error delivering message to topic (%s): %w", ntf.baseURL+topic, err)
	}
	resp, err := ntf.client.Do(req)
	if err != nil {
		return fmt.Errorf("error delivering message to topic (%s): %w", ntf.baseURL+topic, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return book.NewErrNotificationFailed(resp.StatusCode)
	}
	return nil
}
