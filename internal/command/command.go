// Package command holds the catalog of commands the gateway sends to the
// platform service and the HTTP routes that map onto them.
package command

// Command names an operation understood by the platform service.
type Command string

func (c Command) String() string {
	return string(c)
}

// Organisations
const (
	ListOrganisations  Command = "get-organisations"
	GetOrganisation    Command = "get-organisation"
	CreateOrganisation Command = "create-organisation"
	UpdateOrganisation Command = "update-organisation"
	DeleteOrganisation Command = "delete-organisation"
)

// Roles and permissions
const (
	ListRoles       Command = "get-roles"
	GetRole         Command = "get-role"
	CreateRole      Command = "create-role"
	UpdateRole      Command = "update-role"
	DeleteRole      Command = "delete-role"
	ListPermissions Command = "get-permissions"
)

// Platform users. Only ListPlatformUsers is forwarded directly, the rest are
// driven by the user lifecycle orchestrator.
const (
	ListPlatformUsers    Command = "get-platform-users"
	GetPlatformUser      Command = "get-platform-user"
	ValidatePlatformUser Command = "validate-platform-user"
	CreatePlatformUser   Command = "create-platform-user"
	UpdatePlatformUser   Command = "update-platform-user"
	DeletePlatformUser   Command = "delete-platform-user"
)

// Sales plans and pricing
const (
	ListSalesPlans                    Command = "get-sales-plans"
	GetSalesPlan                      Command = "get-sales-plan"
	CreateSalesPlan                   Command = "create-sales-plan"
	UpdateSalesPlan                   Command = "update-sales-plan"
	DeleteSalesPlan                   Command = "delete-sales-plan"
	GetSalesPlanPricing               Command = "get-sales-plan-pricing"
	GetDailySalesPlanPricingBreakdown Command = "get-daily-sales-plan-pricing-breakdown"
)

// Bookings
const (
	ListBookings          Command = "get-bookings"
	GetBooking            Command = "get-booking"
	CreateBooking         Command = "create-booking"
	UpdateBooking         Command = "update-booking"
	CancelBooking         Command = "cancel-booking"
	CreateExternalBooking Command = "create-external-booking"
)

// Customers
const (
	ListCustomers  Command = "get-customers"
	GetCustomer    Command = "get-customer"
	CreateCustomer Command = "create-customer"
	UpdateCustomer Command = "update-customer"
)

// Products
const (
	ListProducts  Command = "get-products"
	GetProduct    Command = "get-product"
	CreateProduct Command = "create-product"
	UpdateProduct Command = "update-product"
	DeleteProduct Command = "delete-product"
)

// Reports
const (
	DownloadSalesReport    Command = "download-sales-report"
	DownloadBookingsReport Command = "download-bookings-report"
)

// Files and images
const (
	UploadFile   Command = "upload-file"
	DownloadFile Command = "download-file"
	DeleteFile   Command = "delete-file"
	UploadImage  Command = "upload-image"
	GetImage     Command = "get-image"
)

// Settings
const (
	GetPublicSettings Command = "get-public-settings"
	UpdateSettings    Command = "update-settings"
)

// All lists every command in the catalog.
var All = []Command{
	ListOrganisations, GetOrganisation, CreateOrganisation, UpdateOrganisation, DeleteOrganisation,
	ListRoles, GetRole, CreateRole, UpdateRole, DeleteRole, ListPermissions,
	ListPlatformUsers, GetPlatformUser, ValidatePlatformUser, CreatePlatformUser, UpdatePlatformUser, DeletePlatformUser,
	ListSalesPlans, GetSalesPlan, CreateSalesPlan, UpdateSalesPlan, DeleteSalesPlan, GetSalesPlanPricing, GetDailySalesPlanPricingBreakdown,
	ListBookings, GetBooking, CreateBooking, UpdateBooking, CancelBooking, CreateExternalBooking,
	ListCustomers, GetCustomer, CreateCustomer, UpdateCustomer,
	ListProducts, GetProduct, CreateProduct, UpdateProduct, DeleteProduct,
	DownloadSalesReport, DownloadBookingsReport,
	UploadFile, DownloadFile, DeleteFile, UploadImage, GetImage,
	GetPublicSettings, UpdateSettings,
}

// Internal lists commands that are only sent by gateway code and never
// bound to a route directly.
var Internal = []Command{
	GetPlatformUser,
	ValidatePlatformUser,
	CreatePlatformUser,
	UpdatePlatformUser,
	DeletePlatformUser,
}

var known = func() map[Command]bool {
	m := make(map[Command]bool, len(All))
	for _, c := range All {
		m[c] = true
	}
	return m
}()

// Valid reports whether c is in the catalog.
func (c Command) Valid() bool {
	return known[c]
}
