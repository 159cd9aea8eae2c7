// Package result defines the outcome records produced by step execution.
//
// A Result is created once inside a step's Execute and never changed
// afterwards. Each variant carries strongly typed fields for its transport:
//
//	switch r := s.Then().(type) {
//	case *result.HTTP:
//		id, _ := r.String("$.id")
//	case *result.Consume:
//		fmt.Println(r.Topic, string(r.Value))
//	case *result.Failure:
//		t.Fatal(r.Reason)
//	}
//
// Properties exposes the same information as a flat string map for reports
// and log lines.
package result
