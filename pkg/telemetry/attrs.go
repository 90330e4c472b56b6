package telemetry

import "go.opentelemetry.io/otel/attribute"

// Attribute keys shared by spans and metrics
const (
	AttrMethod    = "http.method"
	AttrRoute     = "http.route"
	AttrErrorCode = "error.code"
	AttrUserID    = "user.id"
	AttrTenantID  = "tenant.id"
	AttrOutcome   = "outcome"
	AttrDecision  = "decision"
	AttrIDKind    = "tenant.identifier_kind"
)

func MethodAttr(method string) attribute.KeyValue { return attribute.String(AttrMethod, method) }

func RouteAttr(route string) attribute.KeyValue { return attribute.String(AttrRoute, route) }

func ErrorCodeAttr(code string) attribute.KeyValue { return attribute.String(AttrErrorCode, code) }

func UserIDAttr(userID string) attribute.KeyValue { return attribute.String(AttrUserID, userID) }

func TenantIDAttr(tenantID string) attribute.KeyValue { return attribute.String(AttrTenantID, tenantID) }

func OutcomeAttr(outcome string) attribute.KeyValue { return attribute.String(AttrOutcome, outcome) }

func DecisionAttr(decision string) attribute.KeyValue { return attribute.String(AttrDecision, decision) }

func IdentifierKindAttr(kind string) attribute.KeyValue { return attribute.String(AttrIDKind, kind) }
