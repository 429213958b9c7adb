package callback

import (
	"fmt"
	"net/http"

	"github.com/protezlab/reportgate/oidc"
)

// AuthCode creates an oidc authorization code callback handler which
// uses a RequestReader to read existing oidc.Request(s) via the request's
// oidc "state" parameter as a key for the lookup.  If the reader is also a
// RequestDeleter, the request is deleted once read, so a state can only be
// used once.
//
// The SuccessResponseFunc is used to create a response when callback is
// successful. The ErrorResponseFunc is to create a response when the callback
// fails.
func AuthCode(p *oidc.Provider, rw RequestReader, sFn SuccessResponseFunc, eFn ErrorResponseFunc) (http.HandlerFunc, error) {
	const op = "callback.AuthCode"
	if p == nil {
		return nil, fmt.Errorf("%s: provider is empty: %w", op, oidc.ErrInvalidParameter)
	}
	if rw == nil {
		return nil, fmt.Errorf("%s: request reader is empty: %w", op, oidc.ErrInvalidParameter)
	}
	if sFn == nil {
		return nil, fmt.Errorf("%s: success response func is empty: %w", op, oidc.ErrInvalidParameter)
	}
	if eFn == nil {
		return nil, fmt.Errorf("%s: error response func is empty: %w", op, oidc.ErrInvalidParameter)
	}
	return func(w http.ResponseWriter, req *http.Request) {
		const op = "callback.AuthCode"
		ctx := req.Context()

		// get parameters from either the body or query parameters.
		// FormValue prioritizes body values, if found
		reqState := req.FormValue("state")
		if reqState == "" {
			eFn(reqState, nil, fmt.Errorf("%s: missing state parameter: %w", op, oidc.ErrInvalidResponseState), w, req)
			return
		}

		oidcRequest, err := rw.Read(ctx, reqState)
		if err != nil {
			eFn(reqState, nil, fmt.Errorf("%s: unable to read auth code request: %w", op, err), w, req)
			return
		}
		if oidcRequest == nil {
			// could have expired or it could be invalid... no way to known for sure
			eFn(reqState, nil, fmt.Errorf("%s: auth code request not found: %w", op, oidc.ErrNotFound), w, req)
			return
		}
		if d, ok := rw.(RequestDeleter); ok {
			if err := d.Delete(ctx, reqState); err != nil {
				eFn(reqState, nil, fmt.Errorf("%s: unable to delete auth code request: %w", op, err), w, req)
				return
			}
		}

		if err := req.FormValue("error"); err != "" {
			reqError := &AuthenErrorResponse{
				Error:       err,
				Description: req.FormValue("error_description"),
				URI:         req.FormValue("error_uri"),
			}
			eFn(reqState, reqError, nil, w, req)
			return
		}

		if oidcRequest.IsExpired() {
			eFn(reqState, nil, fmt.Errorf("%s: authentication request is expired: %w", op, oidc.ErrExpiredRequest), w, req)
			return
		}
		if reqState != oidcRequest.State() {
			// the reader didn't return the correct request for the key given
			eFn(reqState, nil, fmt.Errorf("%s: authen state and response state are not equal: %w", op, oidc.ErrInvalidResponseState), w, req)
			return
		}

		reqCode := req.FormValue("code")
		responseToken, err := p.Exchange(ctx, oidcRequest, reqState, reqCode)
		if err != nil {
			eFn(reqState, nil, fmt.Errorf("%s: unable to exchange authorization code: %w", op, err), w, req)
			return
		}
		sFn(reqState, responseToken, w, req)
	}, nil
}
