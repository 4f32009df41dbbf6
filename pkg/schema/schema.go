package schema

// Schema is a map of field names to their declared types.
// Example: {"answer": String(), "retry_count": Int(), "params": Slice(Float())}
type Schema map[string]Type

// Validate checks that every supplied value conforms to its declared type.
// Unknown fields and type mismatches are both reported; all failures found
// are aggregated into a single error.
func Validate(s Schema, data map[string]any) error {
	var errs []error

	for fieldName, value := range data {
		fieldType, exists := s[fieldName]
		if !exists {
			errs = append(errs, &ValidationError{
				Key:    fieldName,
				Reason: "not declared in schema",
				Value:  value,
			})
			continue
		}

		if err := fieldType.Validate(value); err != nil {
			errs = append(errs, &ValidationError{
				Key:    fieldName,
				Reason: err.Error(),
				Value:  value,
			})
		}
	}

	if len(errs) > 0 {
		return &AggregateError{Errors: errs}
	}

	return nil
}

// Zero returns a value map holding the zero value for every declared field.
func Zero(s Schema) map[string]any {
	values := make(map[string]any, len(s))
	for key, typ := range s {
		values[key] = typ.Zero()
	}
	return values
}
