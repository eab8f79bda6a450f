package extract

import (
	"strings"
	"unicode"
)

// field is a BugRecord field a property key or section heading can map to.
type field int

const (
	fieldNone field = iota
	fieldID
	fieldTitle
	fieldSteps
	fieldExpected
	fieldActual
	fieldEnvironment
	fieldPlatform
	fieldVersion
	fieldBrowser
	fieldDevice
	fieldReporter
	fieldTimestamp
	fieldScreenshots
	fieldErrors
	fieldLabels
)

// block fields own a multi-line section; the rest are single values.
func (f field) block() bool {
	switch f {
	case fieldTitle, fieldSteps, fieldExpected, fieldActual, fieldEnvironment, fieldErrors:
		return true
	}
	return false
}

var aliases = map[string]field{
	"id":        fieldID,
	"key":       fieldID,
	"bug_id":    fieldID,
	"ticket_id": fieldID,
	"issue_id":  fieldID,

	"title":       fieldTitle,
	"summary":     fieldTitle,
	"subject":     fieldTitle,
	"issue_title": fieldTitle,

	"steps":                 fieldSteps,
	"steps_to_reproduce":    fieldSteps,
	"steps_to_reproduction": fieldSteps,
	"reproduction_steps":    fieldSteps,
	"repro_steps":           fieldSteps,
	"reproduction":          fieldSteps,
	"repro":                 fieldSteps,
	"how_to_reproduce":      fieldSteps,
	"to_reproduce":          fieldSteps,
	"str":                   fieldSteps,

	"expected":           fieldExpected,
	"expected_behavior":  fieldExpected,
	"expected_behaviour": fieldExpected,
	"expected_result":    fieldExpected,
	"expected_results":   fieldExpected,
	"expected_outcome":   fieldExpected,

	"actual":            fieldActual,
	"actual_behavior":   fieldActual,
	"actual_behaviour":  fieldActual,
	"actual_result":     fieldActual,
	"actual_results":    fieldActual,
	"actual_outcome":    fieldActual,
	"observed":          fieldActual,
	"observed_behavior": fieldActual,
	"what_happened":     fieldActual,
	"current_behavior":  fieldActual,

	"environment":         fieldEnvironment,
	"environment_details": fieldEnvironment,
	"env":                 fieldEnvironment,
	"system_info":         fieldEnvironment,

	"platform":         fieldPlatform,
	"os":               fieldPlatform,
	"operating_system": fieldPlatform,

	"version":     fieldVersion,
	"app_version": fieldVersion,
	"os_version":  fieldVersion,
	"build":       fieldVersion,
	"release":     fieldVersion,

	"browser":         fieldBrowser,
	"browser_version": fieldBrowser,
	"user_agent":      fieldBrowser,

	"device":       fieldDevice,
	"device_model": fieldDevice,
	"model":        fieldDevice,
	"hardware":     fieldDevice,

	"reporter":         fieldReporter,
	"reported_by":      fieldReporter,
	"customer":         fieldReporter,
	"customer_account": fieldReporter,
	"customer_email":   fieldReporter,
	"account":          fieldReporter,

	"timestamp":   fieldTimestamp,
	"created":     fieldTimestamp,
	"created_at":  fieldTimestamp,
	"date":        fieldTimestamp,
	"reported_at": fieldTimestamp,
	"occurred_at": fieldTimestamp,

	"screenshots": fieldScreenshots,
	"screenshot":  fieldScreenshots,
	"images":      fieldScreenshots,

	"errors":           fieldErrors,
	"error":            fieldErrors,
	"error_message":    fieldErrors,
	"error_messages":   fieldErrors,
	"error_log":        fieldErrors,
	"logs":             fieldErrors,
	"log":              fieldErrors,
	"stack_trace":      fieldErrors,
	"stacktrace":       fieldErrors,
	"console":          fieldErrors,
	"console_output":   fieldErrors,
	"console_errors":   fieldErrors,
	"crash_log":        fieldErrors,
	"crash_report":     fieldErrors,
	"extracted_errors": fieldErrors,

	"labels":     fieldLabels,
	"tags":       fieldLabels,
	"components": fieldLabels,
}

// normalizeKey lowercases a property key or heading and joins its words
// with underscores: "Steps to Reproduce" -> "steps_to_reproduce".
func normalizeKey(s string) string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(words, "_")
}

func lookup(key string) field {
	return aliases[normalizeKey(key)]
}
