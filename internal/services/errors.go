package service

import (
	stderrors "errors"

	pkgerrors "github.com/honeynil/LeadMarketplace/pkg/errors"
)

var codeBySentinel = []struct {
	err  error
	code pkgerrors.Code
}{
	{pkgerrors.ErrMissingIdentifiers, pkgerrors.CodeBadRequest},
	{pkgerrors.ErrIdentityMismatch, pkgerrors.CodeUnauthorized},
	{pkgerrors.ErrTermsNotAccepted, pkgerrors.CodeForbidden},
	{pkgerrors.ErrFraudCheckFailed, pkgerrors.CodeForbidden},
	{pkgerrors.ErrLeadNotFound, pkgerrors.CodeNotFound},
	{pkgerrors.ErrLeadUnavailable, pkgerrors.CodeNotFound},
	{pkgerrors.ErrPaymentNotFound, pkgerrors.CodeNotFound},
	{pkgerrors.ErrLeadExpired, pkgerrors.CodeGone},
	{pkgerrors.ErrLeadAlreadyPurchased, pkgerrors.CodeConflict},
	{pkgerrors.ErrRequestInProgress, pkgerrors.CodeConflict},
	{pkgerrors.ErrDuplicateKey, pkgerrors.CodeConflict},
}

// MapError translates a pipeline error into the public taxonomy. Errors that
// already carry a code keep it.
func MapError(err error) *pkgerrors.Error {
	if err == nil {
		return nil
	}
	if tagged := pkgerrors.As(err); tagged != nil {
		return tagged
	}
	for _, m := range codeBySentinel {
		if stderrors.Is(err, m.err) {
			return pkgerrors.Wrap(m.code, err, m.err.Error())
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, pkgerrors.MetadataFor(pkgerrors.CodeInternal).PublicMessage)
}
