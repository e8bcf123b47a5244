// Package cronspec converts between the structured schedule choices offered to
// operators (daily, weekly, monthly) and 5-field cron expressions.
//
// Conversion is pure and total: any string parses to some Descriptor, and
// anything that is not one of the three structured shapes is kept verbatim as
// a Custom descriptor.
package cronspec
