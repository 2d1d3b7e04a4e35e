package core

// DeduplicateAlerts collapses alerts sharing a stable key (the first two
// colon-separated fingerprint segments) down to the most recently touched
// survivor. Input order is preserved for survivors.
func DeduplicateAlerts(alerts []Alert) []Alert {
	if len(alerts) <= 1 {
		return alerts
	}

	winners := make(map[string]int, len(alerts))
	order := make([]string, 0, len(alerts))

	for i := range alerts {
		key := StableKey(alerts[i].Fingerprint)
		existing, seen := winners[key]
		if !seen {
			winners[key] = i
			order = append(order, key)
			continue
		}
		if alerts[i].LastTouched().After(alerts[existing].LastTouched()) {
			winners[key] = i
		}
	}

	result := make([]Alert, 0, len(order))
	for _, key := range order {
		result = append(result, alerts[winners[key]])
	}
	return result
}
