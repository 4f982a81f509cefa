package book

import (
	"context"
	"errors"
	"fmt"
)

type ErrResponse struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_message"`
}

func (e ErrResponse) Error() string {
	return e.Message
}

var ErrResponseBookEntryBlankFields = ErrResponse{100, "the fields title and copies_available must be filled correctly."}
var ErrResponseBookNotFound = ErrResponse{101, "book not found"}
var ErrResponseEntryInvalidJSON = ErrResponse{102, "invalid json request."}
var ErrResponseIdInvalidFormat = ErrResponse{103, "the endpoint is not a valid format ID. Must end with a {uuid}"}
var ErrResponseCopiesNegative = ErrResponse{104, "field copies_available must not be negative"}
var ErrResponseQuerySortByInvalid = ErrResponse{105, "query parameter 'sort_by' must be: title, category, copies_available, created_at or updated_at. 'sort_direction' must be asc or desc."}
var ErrResponseQueryPageInvalid = ErrResponse{106, "query parameter 'page' must be an int starting in 1. 'page_size' must be an int beetween 1 and 30."}
var ErrResponseQueryPageOutOfRange = ErrResponse{107, "page out of range."}
var ErrResponseQueryOverdueInvalid = ErrResponse{108, "query parameter 'overdue' must be true. Open loans of a member are listed at /members/{id}/loans."}
var ErrResponseRequestTimeout = ErrResponse{109, "error from context:"}
var ErrResponseBookIsArchived = ErrResponse{112, "book status is archived"}
var ErrResponseAuthorNotFound = ErrResponse{113, "author not found"}
var ErrResponseAuthorEntryBlankFields = ErrResponse{114, "field full_name must be filled correctly."}
var ErrResponseMemberNotFound = ErrResponse{115, "member not found"}
var ErrResponseMemberEntryBlankFields = ErrResponse{116, "field full_name must be filled correctly."}
var ErrResponseBorrowEntryBlankFields = ErrResponse{117, "the fields member_id and book_id must be filled correctly."}

// Loan ledger rejections. Only ErrResponseStorageFailure is worth retrying.
var ErrResponseLoanLimitExceeded = ErrResponse{120, fmt.Sprintf("member already has %d active loans", MaxActiveLoans)}
var ErrResponseBookUnavailable = ErrResponse{121, "book has no copies available"}
var ErrResponseLoanNotFound = ErrResponse{122, "loan not found or already returned"}
var ErrResponseStorageFailure = ErrResponse{123, "storage failure, the operation was not applied"}

type ErrNotificationFailed struct {
	statusCode int
}

func (e ErrNotificationFailed) Error() string {
	return fmt.Sprintf("ntfy wrong response - want: 200 OK, got: %d", e.statusCode)
}

func NewErrNotificationFailed(statusCode int) ErrNotificationFailed {
	return ErrNotificationFailed{statusCode: statusCode}
}

/*
Wraps an error coming from the repository. Business errors (ErrResponse values) keep
their identity; anything else is reported as a storage failure.
*/
func repoError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("timeout on call to %s: %w: %w", op, ErrResponseStorageFailure, err)
	}
	var errR ErrResponse
	if errors.As(err, &errR) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrResponseStorageFailure, err)
}

// IsRetryable reports whether err is a storage failure that left no data changed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrResponseStorageFailure)
}
