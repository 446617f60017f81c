// Package harness provides conformance testing for the orchestration engine.
//
// The harness loads a CUE stack (catalog and profile), optionally seeds
// pre-existing live state, drives a real engine instance through a sequence
// of steps, and validates the final world against declared assertions. The
// engine under test is the same one a resident supervisor runs; only the
// transport is simulated.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	stack: ../stacks/scenario_stack
//	seed:
//	  instances:
//	    - name: veteran
//	      model: sensor.driver
//	      requirement: left_sensor
//	      deployment: edge-0
//	      running: true
//	  connections:
//	    - src: veteran.out
//	      sink: recorder0.in
//	      policy: { kind: buffer, size: 3 }
//	steps:
//	  - do: resolve
//	    expect:
//	      outcome: applied
//	      new_pairs: 1
//	  - do: step-transport
//	  - do: remove
//	    requirement: left_sensor
//	assertions:
//	  - type: instance_count
//	    count: 2
//	  - type: bound_same
//	    requirements: [left_sensor, right_sensor]
//	  - type: connection
//	    src: veteran.out
//	    sink: recorder0.in
//	    policy: buffer[3]
//
// # Step Kinds
//
//   - resolve: drain queued events, run one resolve cycle, check the
//     expect block against the cycle report
//   - step-transport: advance the simulated transport one step (queued
//     stops land before queued starts) and feed stop observations back
//   - remove: enqueue a requirement removal for the next resolve
//   - requirements: replace the goal set, optionally with a subset of the
//     profile's requirements
//
// # Deterministic Testing
//
// Every scenario executes with a fixed cycle-token sequence
// (testutil.CycleTokens seeded from the scenario name), an in-memory
// SQLite journal isolated per run, and a simulated transport that only
// advances on explicit step-transport steps. Identical runs therefore
// produce byte-identical canonical traces, which is what golden comparison
// (RunWithGolden) relies on.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/merge.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
