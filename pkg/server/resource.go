package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/super-x402/facilitator/pkg/facilitator"
	"github.com/super-x402/facilitator/pkg/gate"
	"github.com/super-x402/facilitator/pkg/payment"
	"go.uber.org/zap"
)

func (s *Server) handleResource(w http.ResponseWriter, r *http.Request) {
	log := logger(r.Context())

	q, err := gate.ParseQuery(r.URL.Query())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, payment.ErrorResponse{Error: err.Error(), Code: "invalid_query"})
		return
	}

	header := r.Header.Get(payment.PaymentHeader)
	ctx := r.Context()
	if header == "" {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, requestTimeout(s.cfg))
		defer cancel()
	} else {
		ctx = context.WithoutCancel(ctx)
	}

	d, err := s.gate.Evaluate(ctx, resourceURL(r, s.cfg.Port), q, header)
	if err != nil {
		s.writeResourceError(w, log, d, err)
		return
	}

	switch d.Outcome {
	case gate.Entitled:
		writeJSON(w, http.StatusOK, payment.EntitlementResponse{
			Status:    "ok",
			Account:   d.Account.Hex(),
			Recipient: q.Recipient.Hex(),
			FlowRate:  d.FlowRate.String(),
			Message:   d.Message(s.cfg, s.pipeline.Fees(), q.Recipient),
		})
	case gate.Challenged:
		writeJSON(w, http.StatusPaymentRequired, d.Challenge)
	case gate.Settled:
		res := d.Settlement
		summary, err := payment.EncodeSettlementHeader(payment.SummaryFrom(res))
		if err != nil {
			log.Error("Encode settlement header", zap.Error(err))
		} else {
			w.Header().Set(payment.PaymentResponseHeader, summary)
		}
		body := payment.ResourceResponse{
			Status:        "ok",
			Account:       d.Account.Hex(),
			Message:       d.Message(s.cfg, s.pipeline.Fees(), q.Recipient),
			Transactions:  res.Transactions,
			Fee:           res.Fee.String(),
			Wrapped:       res.Wrapped.String(),
			WrapMode:      res.WrapMode.String(),
			StreamCreated: res.Stream.IsCreated(),
			StreamTxHash:  res.StreamTxHash(),
			StreamOutcome: &res.Stream,
		}
		if d.SuperBalance != nil {
			body.SuperTokenBalance = d.SuperBalance.String()
		}
		writeJSON(w, http.StatusOK, body)
	}
}

// writeResourceError maps gate failures to status codes: invalid payments
// and self streams are the caller's fault (400); a settlement that failed
// after verification is a 500 carrying the transactions already confirmed.
func (s *Server) writeResourceError(w http.ResponseWriter, log *zap.Logger, d *gate.Decision, err error) {
	code := facilitator.CodeOf(err)
	var fe *facilitator.Error
	message := "Server error"
	if errors.As(err, &fe) {
		message = fe.Message
	}

	switch {
	case d != nil && d.Settlement != nil:
		res := d.Settlement
		log.Error("Payment processing failed",
			zap.String("stage", res.Stage),
			zap.Int("confirmedTxs", len(res.Transactions)),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, payment.ErrorResponse{
			Error:        "Payment processing failed",
			Code:         string(code),
			Details:      message,
			Stage:        res.Stage,
			Transactions: res.Transactions,
		})
	case facilitator.IsVerification(err):
		log.Info("Payment rejected", zap.String("code", string(code)), zap.Error(err))
		writeJSON(w, http.StatusBadRequest, payment.ErrorResponse{Error: message, Code: string(code)})
	default:
		log.Error("Resource request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, payment.ErrorResponse{Error: message, Code: string(code)})
	}
}
