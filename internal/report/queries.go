package report

// GraphQL documents for the v2 client API. Shapes match the upstream schema;
// variables are always passed separately.

const reportOverviewQuery = `
query ReportOverview($code: String!) {
  reportData {
    report(code: $code) {
      title
      startTime
      endTime
      masterData {
        actors {
          id
          name
          type
          subType
          icon
          petOwner
        }
        abilities {
          gameID
          name
        }
      }
      fights {
        id
        name
        boss
        startTime
        endTime
        kill
        phaseTransitions {
          id
          startTime
        }
      }
    }
  }
}
`

const reportEventsQuery = `
query ReportEvents($code: String!, $dataType: EventDataType!, $start: Float!, $end: Float!, $limit: Int!, $abilityID: Float) {
  reportData {
    report(code: $code) {
      events(dataType: $dataType, startTime: $start, endTime: $end, limit: $limit, abilityID: $abilityID) {
        data
        nextPageTimestamp
      }
    }
  }
}
`
