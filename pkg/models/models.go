package models

import (
	"fmt"
	"strings"
	"time"
)

// RequestType is the kind of help a relief request asks for
type RequestType string

const (
	RequestMedical RequestType = "Medical"
	RequestFood    RequestType = "Food"
	RequestWater   RequestType = "Water"
	RequestShelter RequestType = "Shelter"
	RequestRescue  RequestType = "Rescue"
	RequestOther   RequestType = "Other"
)

// RequestTypes lists every accepted request type in display order
var RequestTypes = []RequestType{RequestMedical, RequestFood, RequestWater, RequestShelter, RequestRescue, RequestOther}

// Keyword is the lower-case token matched against responder capability text
func (t RequestType) Keyword() string {
	return strings.ToLower(string(t))
}

// ParseRequestType accepts any casing of a known request type
func ParseRequestType(s string) (RequestType, error) {
	for _, t := range RequestTypes {
		if strings.EqualFold(s, string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown request type %q", s)
}

// Role is the self-declared account role chosen at signup
type Role string

const (
	RoleVictim    Role = "victim"
	RoleVolunteer Role = "volunteer"
)

// Coordinates is a latitude/longitude pair in degrees
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether both components are inside their geographic ranges
func (c Coordinates) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// Operator is the acting account behind an API call
type Operator struct {
	ID          uint   `json:"id"`
	Username    string `json:"username"`
	IsActive    bool   `json:"is_active"`
	IsStaff     bool   `json:"is_staff"`
	IsSuperuser bool   `json:"is_superuser"`
}

// CanAssign reports whether the operator holds the eligible-role privilege
func (o Operator) CanAssign() bool {
	return o.IsActive && o.IsStaff
}

// Severity grades an operational alert
type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// Alert is a free-text operational notice shown on dashboards
type Alert struct {
	ID        string    `json:"id"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	IsActive  bool      `json:"is_active"`
	PostedBy  string    `json:"posted_by"`
	Timestamp time.Time `json:"timestamp"`
}

// ReliefRequestView is the API representation of a relief request
type ReliefRequestView struct {
	ID                  uint        `json:"id"`
	RequesterID         uint        `json:"requester_id"`
	RequestType         RequestType `json:"request_type"`
	Description         string      `json:"description"`
	Location            Coordinates `json:"location"`
	Status              Status      `json:"status"`
	AssignedResponderID *uint       `json:"assigned_responder_id,omitempty"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// CreateRequestInput is the body of a new relief request
type CreateRequestInput struct {
	RequestType string  `json:"request_type" binding:"required"`
	Description string  `json:"description" binding:"required,max=2000"`
	Latitude    float64 `json:"latitude" binding:"gte=-90,lte=90"`
	Longitude   float64 `json:"longitude" binding:"gte=-180,lte=180"`
}

// SignupInput registers a requester or a volunteer account
type SignupInput struct {
	Username    string `json:"username" binding:"required,min=3,max=150"`
	Password    string `json:"password" binding:"required,min=8"`
	Role        Role   `json:"role" binding:"required,oneof=victim volunteer"`
	PhoneNumber string `json:"phone_number" binding:"required,max=20"`
	FullName    string `json:"full_name" binding:"max=100"`
	SkillsBio   string `json:"skills_bio" binding:"max=500"`
}

// ResponderLoad is one eligible responder with its live workload
type ResponderLoad struct {
	ID          uint         `json:"id"`
	Username    string       `json:"username"`
	Volunteer   bool         `json:"volunteer"`
	ActiveTasks int          `json:"active_tasks"`
	Location    *Coordinates `json:"location,omitempty"`
}

// LoadReport summarises how work is spread across eligible responders
type LoadReport struct {
	Responders    []ResponderLoad `json:"responders"`
	FairnessScore float64         `json:"fairness_score"`
}

// Severities lists every alert severity from least to most urgent
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// PostAlertInput is the body of a new dashboard alert
type PostAlertInput struct {
	Severity Severity `json:"severity" binding:"required,oneof=Low Medium High Critical"`
	Message  string   `json:"message" binding:"required,max=500"`
}

// LocationInput is a responder's position report
type LocationInput struct {
	Latitude  *float64 `json:"latitude" binding:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" binding:"required,gte=-180,lte=180"`
}

// StatusInput is the body of a manual status change
type StatusInput struct {
	Status string `json:"status" binding:"required"`
}

// LoginInput is the body of a login call
type LoginInput struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}
