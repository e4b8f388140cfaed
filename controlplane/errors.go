// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package controlplane

import (
	"errors"
	"fmt"
	"net/http"

	"axonflow/controlplane/broker"
	"axonflow/controlplane/deployment"
	"axonflow/controlplane/gate"
)

// Stable error codes returned on the API surface.
const (
	CodeNotAuthenticated         = "NOT_AUTHENTICATED"
	CodeNotAuthorized            = "NOT_AUTHORIZED"
	CodeNotFound                 = "NOT_FOUND"
	CodeQuotaExceeded            = "QUOTA_EXCEEDED"
	CodeProviderNotAllowed       = "PROVIDER_NOT_ALLOWED"
	CodeModelNotAllowed          = "MODEL_NOT_ALLOWED"
	CodeSubscriptionInvalid      = "SUBSCRIPTION_INVALID"
	CodeInvalidTransition        = "INVALID_TRANSITION"
	CodeProvisioningFailed       = "PROVISIONING_FAILED"
	CodeCredentialExchangeFailed = "CREDENTIAL_EXCHANGE_FAILED"
	CodeRateLimited              = "RATE_LIMITED"
	CodeBadRequest               = "BAD_REQUEST"
	CodeInternal                 = "INTERNAL"
)

// statusByCode maps every code to exactly one HTTP status.
var statusByCode = map[string]int{
	CodeNotAuthenticated:         http.StatusUnauthorized,
	CodeNotAuthorized:            http.StatusForbidden,
	CodeNotFound:                 http.StatusNotFound,
	CodeQuotaExceeded:            http.StatusTooManyRequests,
	CodeProviderNotAllowed:       http.StatusForbidden,
	CodeModelNotAllowed:          http.StatusForbidden,
	CodeSubscriptionInvalid:      http.StatusPaymentRequired,
	CodeInvalidTransition:        http.StatusConflict,
	CodeProvisioningFailed:       http.StatusBadGateway,
	CodeCredentialExchangeFailed: http.StatusBadGateway,
	CodeRateLimited:              http.StatusTooManyRequests,
	CodeBadRequest:               http.StatusBadRequest,
	CodeInternal:                 http.StatusInternalServerError,
}

// AppError is the single error shape crossing the API boundary.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HTTPStatus returns the status for the error's code.
func (e *AppError) HTTPStatus() int {
	if s, ok := statusByCode[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// NewAppError builds an error with the given code and message.
func NewAppError(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// fromGateDenial maps a gate denial onto the API taxonomy, preserving the
// remediation hint.
func fromGateDenial(d *gate.Denial) *AppError {
	code := CodeNotAuthorized
	switch d.Code {
	case gate.CodeNotAuthenticated:
		code = CodeNotAuthenticated
	case gate.CodeSubscriptionInvalid:
		code = CodeSubscriptionInvalid
	case gate.CodeProviderNotAllowed:
		code = CodeProviderNotAllowed
	case gate.CodeModelNotAllowed:
		code = CodeModelNotAllowed
	case gate.CodeQuotaExceeded:
		code = CodeQuotaExceeded
	}
	return &AppError{Code: code, Message: d.Reason, Hint: d.Hint}
}

// classifyError folds any internal error into an AppError. Unrecognized
// errors become opaque internals so implementation detail never leaks to
// callers.
func classifyError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	if d, ok := gate.AsDenial(err); ok {
		return fromGateDenial(d)
	}

	if deployment.IsInvalidTransition(err) {
		return &AppError{Code: CodeInvalidTransition, Message: err.Error()}
	}

	switch {
	case errors.Is(err, broker.ErrInvalidIdentity):
		return &AppError{
			Code:    CodeCredentialExchangeFailed,
			Message: "federated identity was rejected",
			Hint:    "reconnect your AWS account and retry",
		}
	case errors.Is(err, broker.ErrRoleNotAssumable):
		return &AppError{
			Code:    CodeCredentialExchangeFailed,
			Message: "deployment role could not be assumed",
			Hint:    "check the trust policy on your deployment role",
		}
	case errors.Is(err, broker.ErrUpstreamUnavailable):
		return &AppError{
			Code:    CodeCredentialExchangeFailed,
			Message: "credential service is unavailable",
			Hint:    "retry shortly",
		}
	case errors.Is(err, errRateLimited):
		return &AppError{
			Code:    CodeRateLimited,
			Message: "too many deployment requests",
			Hint:    "retry after the current window passes",
		}
	}

	return &AppError{Code: CodeInternal, Message: "internal error"}
}
