package command

import (
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/wolfeidau/platform-gateway/internal/auth"
)

// Kind describes how a route's reply is written.
type Kind string

const (
	// KindJSON wraps the reply in the response envelope.
	KindJSON Kind = "json"
	// KindRaw writes the reply as-is.
	KindRaw Kind = "raw"
	// KindDownload decodes a base64 file payload into the response body.
	KindDownload Kind = "download"
	// KindUpload reads a multipart file and forwards it base64 encoded.
	KindUpload Kind = "upload"
	// KindCustom is served by a named handler instead of the generic forwarder.
	KindCustom Kind = "custom"
)

// Route binds an HTTP method and pattern to a command.
type Route struct {
	Method      string            `yaml:"method"`
	Pattern     string            `yaml:"pattern"`
	Command     Command           `yaml:"command,omitempty"`
	Access      auth.Access       `yaml:"access"`
	Permissions []auth.Permission `yaml:"permissions,omitempty"`
	Kind        Kind              `yaml:"kind"`
	Handler     string            `yaml:"handler,omitempty"`
}

// Key returns the ServeMux pattern for the route.
func (r Route) Key() string {
	return r.Method + " " + r.Pattern
}

// Named custom handlers.
const (
	HandlerCreateUser        = "users.create"
	HandlerUpdateUser        = "users.update"
	HandlerDeleteUser        = "users.delete"
	HandlerResetPassword     = "users.reset-password"
	HandlerChangePassword    = "users.change-password"
	HandlerListIdentityUsers = "users.list-identity"
	HandlerPricingBreakdown  = "pricing.daily-breakdown"
)

func jwt(method, pattern string, cmd Command, perms ...auth.Permission) Route {
	return Route{Method: method, Pattern: pattern, Command: cmd, Access: auth.AccessJWT, Permissions: perms, Kind: KindJSON}
}

func custom(method, pattern, handler string, cmd Command, perms ...auth.Permission) Route {
	return Route{Method: method, Pattern: pattern, Command: cmd, Access: auth.AccessJWT, Permissions: perms, Kind: KindCustom, Handler: handler}
}

func withKind(r Route, kind Kind) Route {
	r.Kind = kind
	return r
}

// Routes is the gateway's route table.
var Routes = []Route{
	jwt(http.MethodGet, "/api/organisations", ListOrganisations, auth.PermOrganisationsRead),
	jwt(http.MethodGet, "/api/organisations/{id}", GetOrganisation, auth.PermOrganisationsRead),
	jwt(http.MethodPost, "/api/organisations", CreateOrganisation, auth.PermOrganisationsWrite),
	jwt(http.MethodPatch, "/api/organisations/{id}", UpdateOrganisation, auth.PermOrganisationsWrite),
	jwt(http.MethodDelete, "/api/organisations/{id}", DeleteOrganisation, auth.PermOrganisationsWrite),

	jwt(http.MethodGet, "/api/roles", ListRoles, auth.PermRolesRead),
	jwt(http.MethodGet, "/api/roles/{id}", GetRole, auth.PermRolesRead),
	jwt(http.MethodPost, "/api/roles", CreateRole, auth.PermRolesWrite),
	jwt(http.MethodPatch, "/api/roles/{id}", UpdateRole, auth.PermRolesWrite),
	jwt(http.MethodDelete, "/api/roles/{id}", DeleteRole, auth.PermRolesWrite),
	jwt(http.MethodGet, "/api/permissions", ListPermissions, auth.PermRolesRead),

	jwt(http.MethodGet, "/api/users", ListPlatformUsers, auth.PermUsersRead),
	jwt(http.MethodGet, "/api/users/{id}", GetPlatformUser, auth.PermUsersRead),
	custom(http.MethodGet, "/api/users/identity", HandlerListIdentityUsers, "", auth.PermUsersRead),
	custom(http.MethodPost, "/api/users", HandlerCreateUser, CreatePlatformUser, auth.PermUsersWrite),
	custom(http.MethodPatch, "/api/users/{id}", HandlerUpdateUser, UpdatePlatformUser, auth.PermUsersWrite),
	custom(http.MethodDelete, "/api/users/{id}", HandlerDeleteUser, DeletePlatformUser, auth.PermUsersWrite),
	custom(http.MethodPost, "/api/users/{id}/reset-password", HandlerResetPassword, "", auth.PermUsersWrite),
	custom(http.MethodPost, "/api/users/{id}/change-password", HandlerChangePassword, "", auth.PermUsersWrite),

	jwt(http.MethodGet, "/api/sales-plans", ListSalesPlans, auth.PermSalesPlansRead),
	jwt(http.MethodGet, "/api/sales-plans/{id}", GetSalesPlan, auth.PermSalesPlansRead),
	jwt(http.MethodPost, "/api/sales-plans", CreateSalesPlan, auth.PermSalesPlansWrite),
	jwt(http.MethodPatch, "/api/sales-plans/{id}", UpdateSalesPlan, auth.PermSalesPlansWrite),
	jwt(http.MethodDelete, "/api/sales-plans/{id}", DeleteSalesPlan, auth.PermSalesPlansWrite),
	jwt(http.MethodGet, "/api/pricing/sales-plans/{id}", GetSalesPlanPricing, auth.PermPricingRead),
	custom(http.MethodGet, "/api/pricing/daily-sales-plan-breakdown", HandlerPricingBreakdown, GetDailySalesPlanPricingBreakdown, auth.PermPricingRead),

	jwt(http.MethodGet, "/api/bookings", ListBookings, auth.PermBookingsRead),
	jwt(http.MethodGet, "/api/bookings/{id}", GetBooking, auth.PermBookingsRead),
	jwt(http.MethodPost, "/api/bookings", CreateBooking, auth.PermBookingsWrite),
	jwt(http.MethodPatch, "/api/bookings/{id}", UpdateBooking, auth.PermBookingsWrite),
	jwt(http.MethodPost, "/api/bookings/{id}/cancel", CancelBooking, auth.PermBookingsWrite),
	{Method: http.MethodPost, Pattern: "/api/external/bookings", Command: CreateExternalBooking, Access: auth.AccessAPIKey, Kind: KindJSON},

	jwt(http.MethodGet, "/api/customers", ListCustomers, auth.PermCustomersRead),
	jwt(http.MethodGet, "/api/customers/{id}", GetCustomer, auth.PermCustomersRead),
	jwt(http.MethodPost, "/api/customers", CreateCustomer, auth.PermCustomersWrite),
	jwt(http.MethodPatch, "/api/customers/{id}", UpdateCustomer, auth.PermCustomersWrite),

	jwt(http.MethodGet, "/api/products", ListProducts, auth.PermProductsRead),
	jwt(http.MethodGet, "/api/products/{id}", GetProduct, auth.PermProductsRead),
	jwt(http.MethodPost, "/api/products", CreateProduct, auth.PermProductsWrite),
	jwt(http.MethodPatch, "/api/products/{id}", UpdateProduct, auth.PermProductsWrite),
	jwt(http.MethodDelete, "/api/products/{id}", DeleteProduct, auth.PermProductsWrite),

	withKind(jwt(http.MethodGet, "/api/reports/sales", DownloadSalesReport, auth.PermReportsRead), KindDownload),
	withKind(jwt(http.MethodGet, "/api/reports/bookings", DownloadBookingsReport, auth.PermReportsRead), KindDownload),

	withKind(jwt(http.MethodPost, "/api/files", UploadFile, auth.PermFilesWrite), KindUpload),
	withKind(jwt(http.MethodGet, "/api/files/{id}", DownloadFile, auth.PermFilesRead), KindDownload),
	jwt(http.MethodDelete, "/api/files/{id}", DeleteFile, auth.PermFilesWrite),
	withKind(jwt(http.MethodPost, "/api/images", UploadImage, auth.PermFilesWrite), KindUpload),
	{Method: http.MethodGet, Pattern: "/api/images/{id}", Command: GetImage, Access: auth.AccessPublic, Kind: KindDownload},

	{Method: http.MethodGet, Pattern: "/api/settings/public", Command: GetPublicSettings, Access: auth.AccessPublic, Kind: KindRaw},
	jwt(http.MethodPut, "/api/settings", UpdateSettings, auth.PermSettingsWrite),
}

var (
	ErrDuplicateRoute = errors.New("duplicate route")
	ErrUnknownCommand = errors.New("unknown command")
	ErrUnboundCommand = errors.New("command not bound to any route")
	ErrInvalidRoute   = errors.New("invalid route")
)

// Validate checks a route table: no duplicate patterns, only catalog commands,
// a handler name on every custom route and every non-internal command bound.
func Validate(routes []Route) error {
	var errs []error

	seen := make(map[string]bool, len(routes))
	bound := make(map[Command]bool, len(All))

	for _, r := range routes {
		key := r.Key()
		if seen[key] {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateRoute, key))
		}
		seen[key] = true

		switch r.Access {
		case auth.AccessPublic, auth.AccessAPIKey, auth.AccessJWT:
		default:
			errs = append(errs, fmt.Errorf("%w: %s has access %q", ErrInvalidRoute, key, r.Access))
		}

		switch r.Kind {
		case KindCustom:
			if r.Handler == "" {
				errs = append(errs, fmt.Errorf("%w: %s is custom without a handler", ErrInvalidRoute, key))
			}
		case KindJSON, KindRaw, KindDownload, KindUpload:
			if r.Command == "" {
				errs = append(errs, fmt.Errorf("%w: %s has no command", ErrInvalidRoute, key))
			}
		default:
			errs = append(errs, fmt.Errorf("%w: %s has kind %q", ErrInvalidRoute, key, r.Kind))
		}

		if r.Command != "" {
			if !r.Command.Valid() {
				errs = append(errs, fmt.Errorf("%w: %s on %s", ErrUnknownCommand, r.Command, key))
			}
			bound[r.Command] = true
		}
	}

	for _, c := range All {
		if !bound[c] && !slices.Contains(Internal, c) {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnboundCommand, c))
		}
	}

	return errors.Join(errs...)
}

// Handlers returns the distinct custom handler names used by routes.
func Handlers(routes []Route) []string {
	var names []string
	for _, r := range routes {
		if r.Kind == KindCustom && !slices.Contains(names, r.Handler) {
			names = append(names, r.Handler)
		}
	}
	return names
}
