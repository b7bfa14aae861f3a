package lndaddr

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/ellemouton/lndaddr/accounts"
	"github.com/ellemouton/lndaddr/zap"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/lnrpc/invoicesrpc"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// labelPrefix prefixes the memo of every invoice we create.
const labelPrefix = "lndaddr:"

var (
	// ErrRPCTimeout is returned if the node didn't answer in time.
	ErrRPCTimeout = errors.New("invoice creation timed out")

	// ErrRPCUnavailable is returned if the node can't be reached.
	ErrRPCUnavailable = errors.New("lightning node unavailable")

	// ErrRPCRejected is returned if the node refused to create the
	// invoice.
	ErrRPCRejected = errors.New("invoice creation rejected by node")

	// ErrCommentTooLong is returned if the comment exceeds the account's
	// commentAllowed.
	ErrCommentTooLong = errors.New("comment too long")
)

// InvoiceClient creates invoices on the lightning node.
// lndclient.LightningClient satisfies it.
type InvoiceClient interface {
	AddInvoice(ctx context.Context, in *invoicesrpc.AddInvoiceData) (
		lntypes.Hash, string, error)
}

// InvoiceRequest holds the validated parameters of a callback request.
type InvoiceRequest struct {
	// Account is the receiving account.
	Account *accounts.Account

	// Amount is the invoice amount, already checked against the account's
	// bounds.
	Amount lnwire.MilliSatoshi

	// Comment is the optional LUD-12 comment.
	Comment string

	// ZapRequest is set if the payer asked for a zap receipt.
	ZapRequest *zap.Request
}

// RequestInvoice creates an invoice for req on the node and wraps it in the
// protocol envelope. If the request carries a zap request, the invoice
// commits to it instead of the account metadata and is tracked until paid.
func (s *Server) RequestInvoice(ctx context.Context,
	req *InvoiceRequest) (*InvoiceResponse, error) {

	// The limit counts characters, not bytes.
	commentLen := utf8.RuneCountInString(req.Comment)
	if commentLen > CommentAllowed(req.Account) {
		return nil, fmt.Errorf("%w: %d characters, %d allowed",
			ErrCommentTooLong, commentLen,
			CommentAllowed(req.Account))
	}

	var descHash [32]byte
	if req.ZapRequest != nil {
		descHash = req.ZapRequest.DescriptionHash()
	} else {
		descHash = BuildMetadata(
			req.Account, s.cfg.Description, s.cfg.BaseURLParsed(),
		).Hash()
	}

	label := labelPrefix + uuid.NewString()
	memo := label
	if req.Comment != "" {
		memo += " " + req.Comment
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RPCTimeout)
	defer cancel()

	hash, payReq, err := s.invoices.AddInvoice(
		ctx, &invoicesrpc.AddInvoiceData{
			Memo:            memo,
			Value:           req.Amount,
			DescriptionHash: descHash[:],
		},
	)
	if err != nil {
		err = classifyRPCError(err)
		invoicesTotal.WithLabelValues(outcomeLabel(err)).Inc()

		return nil, err
	}

	invoicesTotal.WithLabelValues("created").Inc()

	log.Infof("Created invoice %v (%s) for %s: %v", hash, label,
		req.Account.Username, req.Amount)

	if req.ZapRequest != nil && s.signer != nil {
		s.signer.Track(&zap.Pending{
			PaymentHash: hash,
			Bolt11:      payReq,
			Amount:      req.Amount,
			Request:     req.ZapRequest,
		})
	}

	return &InvoiceResponse{
		PayRequest: payReq,
		Routes:     []string{},
	}, nil
}

// classifyRPCError maps a node error onto one of the RPC sentinel errors.
func classifyRPCError(err error) error {
	var kind error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		status.Code(err) == codes.DeadlineExceeded:

		kind = ErrRPCTimeout

	case status.Code(err) == codes.Unavailable:
		kind = ErrRPCUnavailable

	default:
		kind = ErrRPCRejected
	}

	return fmt.Errorf("%w: %v", kind, err)
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrRPCTimeout):
		return "timeout"
	case errors.Is(err, ErrRPCUnavailable):
		return "unavailable"
	default:
		return "rejected"
	}
}
